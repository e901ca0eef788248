package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	"github.com/kalambet/santaline/internal/config"
	"github.com/kalambet/santaline/internal/gemini"
	"github.com/kalambet/santaline/internal/persona"
)

type textReply struct {
	Text          string `json:"text"`
	ProviderModel string `json:"providerModel"`
	Source        string `json:"source,omitempty"`
}

// --- text ---

var textCmd = &cobra.Command{
	Use:   "text <prompt>",
	Short: "Generate text with model fallback",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		model, _ := cmd.Flags().GetString("model")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/generate-content", map[string]string{
			"prompt": strings.Join(args, " "),
			"model":  model,
		})
		if err != nil {
			return err
		}

		var out textReply
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		fmt.Println(out.Text)
		printStep("answered by %s", out.ProviderModel)
		return nil
	},
}

func init() {
	textCmd.Flags().String("model", "", "model to try first")
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send one message to Santa (or the Grinch)",
	Long: `Send one message to Santa (or the Grinch).

Examples:
  santaline chat --name Lucia --age 7 --gifts "a red bike" "Hello Santa!"
  santaline chat --persona grinch --language en "Do you like Christmas?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		name, _ := flags.GetString("name")
		age, _ := flags.GetString("age")
		gifts, _ := flags.GetString("gifts")
		behavior, _ := flags.GetString("behavior")
		details, _ := flags.GetString("details")
		p, _ := flags.GetString("persona")
		lang, _ := flags.GetString("language")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/chat", map[string]any{
			"context": persona.CallContext{
				RecipientName: name,
				Age:           age,
				Gifts:         gifts,
				Behavior:      behavior,
				Details:       details,
				Persona:       persona.Persona(p),
			},
			"language": lang,
			"message":  strings.Join(args, " "),
		})
		if err != nil {
			return err
		}

		var out textReply
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		fmt.Println(out.Text)
		return nil
	},
}

func init() {
	f := chatCmd.Flags()
	f.String("name", "", "child's name")
	f.String("age", "", "child's age")
	f.String("gifts", "", "wished-for gifts")
	f.String("behavior", "", "behavior this year")
	f.String("details", "", "extra details Santa should know")
	f.String("persona", string(persona.Santa), "santa, grinch or spicy_santa")
	f.String("language", string(persona.Spanish), "reply language (name or ISO code)")
}

// --- image ---

type imageReply struct {
	ImageData         string   `json:"imageData"`
	MIMEType          string   `json:"mimeType"`
	ProviderModel     string   `json:"providerModel"`
	UseFallback       bool     `json:"useFallback"`
	RetryAfterSeconds int      `json:"retryAfterSeconds"`
	TriedModels       []string `json:"triedModels"`
}

var imageCmd = &cobra.Command{
	Use:   "image <prompt>",
	Short: "Generate an image and save it to a file",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		aspect, _ := cmd.Flags().GetString("aspect")
		out, _ := cmd.Flags().GetString("out")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/generate-image", map[string]string{
			"prompt":      strings.Join(args, " "),
			"aspectRatio": aspect,
		})
		if err != nil {
			return err
		}

		var img imageReply
		if err := decodeJSON(resp, &img); err != nil {
			return err
		}
		return saveImage(img, out)
	},
}

func init() {
	imageCmd.Flags().String("aspect", "", "aspect ratio: 1:1, 3:4, 4:3, 9:16 or 16:9")
	imageCmd.Flags().String("out", "santa.png", "output file")
}

func saveImage(img imageReply, out string) error {
	if img.UseFallback {
		printWarning("no image model available (tried %s)", strings.Join(img.TriedModels, ", "))
		if img.RetryAfterSeconds > 0 {
			printStatus("Retry after", "%ds", img.RetryAfterSeconds)
		}
		return nil
	}

	data, err := base64.StdEncoding.DecodeString(img.ImageData)
	if err != nil {
		return fmt.Errorf("decoding image: %w", err)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("writing image: %w", err)
	}
	printSuccess("Saved %s (%s, %d bytes) from %s", out, img.MIMEType, len(data), img.ProviderModel)
	return nil
}

// --- analyze / letter ---

// readMedia loads a file as base64 plus its MIME type.
func readMedia(path string) (string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("reading file: %w", err)
	}
	mimeType := mimetype.Detect(data).String()
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		mimeType = "application/pdf"
	}
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return base64.StdEncoding.EncodeToString(data), mimeType, nil
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Describe an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt, _ := cmd.Flags().GetString("prompt")

		data, mimeType, err := readMedia(args[0])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/analyze-image", map[string]string{
			"imageData": data,
			"mimeType":  mimeType,
			"prompt":    prompt,
		})
		if err != nil {
			return err
		}

		var out textReply
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		fmt.Println(out.Text)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().String("prompt", "", "question to ask about the image")
}

var letterCmd = &cobra.Command{
	Use:   "letter",
	Short: "Read letters to Santa and draw them",
}

var letterReadCmd = &cobra.Command{
	Use:   "read <file>",
	Short: "Summarize a letter from a PDF or a photo",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, mimeType, err := readMedia(args[0])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/analyze-letter", map[string]string{
			"data":     data,
			"mimeType": mimeType,
		})
		if err != nil {
			return err
		}

		var out textReply
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		fmt.Println(out.Text)
		printStep("read from %s by %s", out.Source, out.ProviderModel)
		return nil
	},
}

type jobReply struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	LastError string          `json:"lastError"`
	Result    json.RawMessage `json:"result"`
}

var letterRenderCmd = &cobra.Command{
	Use:   "render <letter text>",
	Short: "Queue a picture of Santa reading the letter",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		aspect, _ := cmd.Flags().GetString("aspect")
		wait, _ := cmd.Flags().GetBool("wait")
		out, _ := cmd.Flags().GetString("out")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/letters/render", map[string]string{
			"letterText":  strings.Join(args, " "),
			"aspectRatio": aspect,
		})
		if err != nil {
			return err
		}
		var queued jobReply
		if err := decodeJSON(resp, &queued); err != nil {
			return err
		}
		printSuccess("Queued render %s", queued.ID)
		if !wait {
			return nil
		}

		job, err := waitForJob(cmd, client, queued.ID)
		if err != nil {
			return err
		}
		var img imageReply
		if err := json.Unmarshal(job.Result, &img); err != nil {
			return fmt.Errorf("decoding job result: %w", err)
		}
		return saveImage(img, out)
	},
}

func waitForJob(cmd *cobra.Command, client *apiClient, id string) (*jobReply, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		resp, err := client.get(cmd.Context(), "/api/jobs/"+url.PathEscape(id))
		if err != nil {
			return nil, err
		}
		var job jobReply
		if err := decodeJSON(resp, &job); err != nil {
			return nil, err
		}
		switch job.Status {
		case "completed":
			return &job, nil
		case "failed":
			return nil, fmt.Errorf("render failed: %s", job.LastError)
		}

		select {
		case <-cmd.Context().Done():
			return nil, cmd.Context().Err()
		case <-ticker.C:
		}
	}
}

func init() {
	letterRenderCmd.Flags().String("aspect", "", "aspect ratio: 1:1, 3:4, 4:3, 9:16 or 16:9")
	letterRenderCmd.Flags().Bool("wait", false, "wait for the image and save it")
	letterRenderCmd.Flags().String("out", "letter.png", "output file when --wait is set")
	letterCmd.AddCommand(letterReadCmd)
	letterCmd.AddCommand(letterRenderCmd)
}

// --- models ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models visible to the configured API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		method, _ := cmd.Flags().GetString("method")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		client := gemini.NewClient(cfg.Gemini.APIKey,
			gemini.WithBaseURL(cfg.Gemini.BaseURL),
			gemini.WithAPIVersion(cfg.Gemini.APIVersion),
			gemini.WithTimeout(cfg.Gemini.Timeout),
		)

		models, err := client.ListModels(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing models: %w", err)
		}
		for _, m := range filterModels(models, method) {
			fmt.Printf("%s  %s\n", modelLabel(m.ID()), strings.Join(m.SupportedGenerationMethods, ","))
		}
		return nil
	},
}

func filterModels(models []gemini.Model, method string) []gemini.Model {
	if method == "" {
		return models
	}
	var out []gemini.Model
	for _, m := range models {
		if m.Supports(method) {
			out = append(out, m)
		}
	}
	return out
}

func init() {
	modelsCmd.Flags().String("method", "generateContent", "only show models supporting this method (empty for all)")
}

// --- requests ---

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "Inspect the request log",
}

type requestSummary struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"createdAt"`
	Capability    string    `json:"capability"`
	Outcome       string    `json:"outcome"`
	ProviderModel string    `json:"providerModel"`
	TriedModels   []string  `json:"triedModels"`
}

func formatRequest(r requestSummary) string {
	return fmt.Sprintf("%s  %s  %-14s %s  %s",
		modelLabel(truncate(r.ID, 8)),
		r.CreatedAt.Local().Format(time.DateTime),
		r.Capability,
		outcomeLabel(r.Outcome),
		strings.Join(r.TriedModels, " > "),
	)
}

var requestsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		capability, _ := cmd.Flags().GetString("capability")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		q.Set("limit", fmt.Sprint(limit))
		if capability != "" {
			q.Set("capability", capability)
		}
		resp, err := client.get(cmd.Context(), "/api/requests?"+q.Encode())
		if err != nil {
			return err
		}

		var recs []requestSummary
		if err := decodeJSON(resp, &recs); err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No requests found.")
			return nil
		}
		for _, r := range recs {
			fmt.Println(formatRequest(r))
		}
		return nil
	},
}

var requestsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single request with every attempt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/requests/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var rec any
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

var requestsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a request log entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/api/requests/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted %s", args[0])
		return nil
	},
}

var requestsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count logged requests by outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/requests/stats")
		if err != nil {
			return err
		}
		var stats map[string]int
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}
		for _, k := range []string{"success", "fallback_requested", "quota_exhausted", "all_candidates_failed"} {
			printStatus(k, "%d", stats[k])
		}
		return nil
	},
}

func init() {
	requestsListCmd.Flags().Int("limit", 20, "maximum number of requests to list")
	requestsListCmd.Flags().String("capability", "", "filter: generate_text, generate_image or analyze_image")
	requestsCmd.AddCommand(requestsListCmd)
	requestsCmd.AddCommand(requestsShowCmd)
	requestsCmd.AddCommand(requestsDeleteCmd)
	requestsCmd.AddCommand(requestsStatsCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  %s\n", keyLabel(k.Key), k.Value, modelLabel("$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// --- key ---

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage stored credentials",
}

var keySetCmd = &cobra.Command{
	Use:   "set <gemini-api-key>",
	Short: "Store the Gemini API key in the local secret store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := strings.TrimSpace(args[0])
		if key == "" {
			return errors.New("API key is required")
		}
		if err := config.SetAPIKey(config.NewKeychain(), key); err != nil {
			return fmt.Errorf("storing API key: %w", err)
		}
		printSuccess("Stored Gemini API key (%d characters)", len(key))
		return nil
	},
}

var keyTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print the bearer token for the management endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := config.GetAPIToken(config.NewKeychain())
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	keyCmd.AddCommand(keySetCmd)
	keyCmd.AddCommand(keyTokenCmd)
}
