package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/santaline/internal/orchestrator"
	"github.com/kalambet/santaline/internal/storage"
)

// RecentRequestsURI is the MCP resource listing the latest logged requests.
const RecentRequestsURI = "santaline://requests/recent"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Generator Generator
	Store     *storage.Store // optional; if nil, the recent requests resource is empty
	Version   string
}

// NewMCPServer creates an MCP server exposing the generation capabilities as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"santaline",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("santaline: Gemini text, image and vision generation with automatic model fallback."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("generate_text",
			mcp.WithDescription("Generate text for a prompt, falling back across models on quota or availability errors."),
			mcp.WithString("prompt", mcp.Description("The prompt"), mcp.Required()),
			mcp.WithString("model", mcp.Description("Optional model to try first")),
		),
		mcpGenerateText(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_image",
			mcp.WithDescription("Generate an image. When every model fails the result says so instead of erroring."),
			mcp.WithString("prompt", mcp.Description("Image description"), mcp.Required()),
			mcp.WithString("aspect_ratio", mcp.Description("One of 1:1, 3:4, 4:3, 9:16, 16:9")),
		),
		mcpGenerateImage(deps),
	)

	s.AddTool(
		mcp.NewTool("analyze_image",
			mcp.WithDescription("Describe or read an image, such as a photographed letter to Santa."),
			mcp.WithString("image_data", mcp.Description("Base64 image bytes or a data URL"), mcp.Required()),
			mcp.WithString("mime_type", mcp.Description("Image MIME type (default image/jpeg)")),
			mcp.WithString("prompt", mcp.Description("What to ask about the image")),
		),
		mcpAnalyzeImage(deps),
	)

	s.AddResource(
		mcp.NewResource(
			RecentRequestsURI,
			"Recent Requests",
			mcp.WithResourceDescription("Last 10 logged generation requests with their outcome"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

// toolFailure renders a service error as a tool error message.
func toolFailure(err error) *mcp.CallToolResult {
	var qe *orchestrator.QuotaError
	var ue *orchestrator.UnavailableError
	switch {
	case errors.As(err, &qe):
		return mcpError(fmt.Sprintf("provider quota exceeded after trying %s; retry after %ds",
			strings.Join(candidateNames(qe.Tried), ", "), qe.RetryAfter))
	case errors.As(err, &ue):
		return mcpError(fmt.Sprintf("all models failed (%s): %v",
			strings.Join(candidateNames(ue.Tried), ", "), ue.LastErr))
	default:
		return mcpError(err.Error())
	}
}

func mcpGenerateText(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return mcpError("prompt is required"), nil
		}

		res, err := deps.Generator.GenerateText(ctx, prompt, req.GetString("model", ""))
		if err != nil {
			return toolFailure(err), nil
		}
		return mcpText(res.Text), nil
	}
}

func mcpGenerateImage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return mcpError("prompt is required"), nil
		}

		res, err := deps.Generator.GenerateImage(ctx, prompt, req.GetString("aspect_ratio", ""), nil)
		if err != nil {
			return toolFailure(err), nil
		}
		if res.UseFallback {
			return mcpText(fmt.Sprintf("No image model is available right now (tried %s). Use a placeholder image.",
				strings.Join(candidateNames(res.Tried), ", "))), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewImageContent(res.ImageData, res.MIMEType),
				mcp.TextContent{Type: "text", Text: fmt.Sprintf("Generated by %s", res.Model)},
			},
		}, nil
	}
}

func mcpAnalyzeImage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		data, err := req.RequireString("image_data")
		if err != nil {
			return mcpError("image_data is required"), nil
		}

		res, err := deps.Generator.AnalyzeImage(ctx, data, req.GetString("mime_type", ""), req.GetString("prompt", ""))
		if err != nil {
			return toolFailure(err), nil
		}
		return mcpText(res.Text), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		type requestSummary struct {
			ID         string `json:"id"`
			CreatedAt  string `json:"created_at"`
			Capability string `json:"capability"`
			Outcome    string `json:"outcome"`
			Model      string `json:"model,omitempty"`
		}

		summaries := []requestSummary{}
		if deps.Store != nil {
			recs, err := deps.Store.ListRequests("", 10, 0)
			if err != nil {
				return nil, fmt.Errorf("failed to list recent requests: %w", err)
			}
			for _, rec := range recs {
				summaries = append(summaries, requestSummary{
					ID:         rec.ID,
					CreatedAt:  rec.CreatedAt.Format(time.RFC3339),
					Capability: rec.Capability,
					Outcome:    rec.Outcome,
					Model:      rec.Candidate,
				})
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal requests: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
