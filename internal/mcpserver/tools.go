package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/featflow/featflow/internal/common/logger"
)

func registerTools(s *server.MCPServer, cfg Config, log *logger.Logger) {
	s.AddTool(
		mcp.NewTool("list_features",
			mcp.WithDescription("List the features on a project's board, optionally filtered by status."),
			mcp.WithString("project_path",
				mcp.Required(),
				mcp.Description("Absolute path of the project the board belongs to"),
			),
			mcp.WithString("status",
				mcp.Description("Only return features in this column: backlog, in_progress, paused, completed, failed, verified, done (optional)"),
			),
			mcp.WithString("query",
				mcp.Description("Only return features whose title or description contains this text (optional)"),
			),
		),
		listFeaturesHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("get_feature",
			mcp.WithDescription("Get one feature card, including its current status and any error from the last agent session."),
			mcp.WithString("project_path",
				mcp.Required(),
				mcp.Description("Absolute path of the project the board belongs to"),
			),
			mcp.WithString("feature_id",
				mcp.Required(),
				mcp.Description("The feature ID"),
			),
		),
		getFeatureHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("create_feature",
			mcp.WithDescription("Create a new feature card in the project's backlog."),
			mcp.WithString("project_path",
				mcp.Required(),
				mcp.Description("Absolute path of the project the board belongs to"),
			),
			mcp.WithString("title",
				mcp.Required(),
				mcp.Description("The feature title"),
			),
			mcp.WithString("description",
				mcp.Description("The feature description (optional)"),
			),
			mcp.WithString("model",
				mcp.Description("Model to use when the feature runs, e.g. sonnet or opus (optional)"),
			),
		),
		createFeatureHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("update_feature_status",
			mcp.WithDescription("Move a feature to another column. Fails with a conflict while the feature has a running session; interrupt it first."),
			mcp.WithString("project_path",
				mcp.Required(),
				mcp.Description("Absolute path of the project the board belongs to"),
			),
			mcp.WithString("feature_id",
				mcp.Required(),
				mcp.Description("The feature ID to move"),
			),
			mcp.WithString("status",
				mcp.Required(),
				mcp.Description("The new status: backlog, in_progress, paused, completed, failed, verified, done"),
			),
		),
		updateFeatureStatusHandler(cfg, log),
	)

	log.Info("registered MCP tools", zap.Int("count", 4))
}

// doRequest performs one daemon API call and formats the response as a tool
// result. API errors come back as tool errors, not transport errors, so the
// agent can read and react to them.
func doRequest(ctx context.Context, log *logger.Logger, method, requestURL string, payload map[string]interface{}) (*mcp.CallToolResult, error) {
	var reqBody *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to encode request: %v", err)), nil
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, requestURL, reqBody)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create request: %v", err)), nil
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		log.Error("daemon API call failed", zap.String("url", requestURL), zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("Failed to reach the featflow daemon: %v", err)), nil
	}
	defer func() { _ = resp.Body.Close() }()

	var result json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}

	if resp.StatusCode >= 400 {
		return mcp.NewToolResultError(fmt.Sprintf("API error (%d): %s", resp.StatusCode, string(result))), nil
	}

	formatted, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(formatted)), nil
}

// featureURL builds a daemon API URL scoped to a project. Project paths are
// filesystem paths and need escaping.
func featureURL(base, featureID, suffix string, params url.Values) string {
	u := base + "/api/v1/features"
	if featureID != "" {
		u += "/" + url.PathEscape(featureID)
	}
	u += suffix
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func listFeaturesHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectPath, err := req.RequireString("project_path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		params := url.Values{"project_path": {projectPath}}
		if status := req.GetString("status", ""); status != "" {
			params.Set("status", status)
		}
		if query := req.GetString("query", ""); query != "" {
			params.Set("q", query)
		}

		return doRequest(ctx, log, http.MethodGet, featureURL(cfg.DaemonURL, "", "", params), nil)
	}
}

func getFeatureHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectPath, err := req.RequireString("project_path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		featureID, err := req.RequireString("feature_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		params := url.Values{"project_path": {projectPath}}
		return doRequest(ctx, log, http.MethodGet, featureURL(cfg.DaemonURL, featureID, "", params), nil)
	}
}

func createFeatureHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectPath, err := req.RequireString("project_path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		title, err := req.RequireString("title")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		payload := map[string]interface{}{
			"project_path": projectPath,
			"title":        title,
		}
		if desc := req.GetString("description", ""); desc != "" {
			payload["description"] = desc
		}
		if model := req.GetString("model", ""); model != "" {
			payload["model"] = model
		}

		return doRequest(ctx, log, http.MethodPost, featureURL(cfg.DaemonURL, "", "", nil), payload)
	}
}

func updateFeatureStatusHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectPath, err := req.RequireString("project_path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		featureID, err := req.RequireString("feature_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		status, err := req.RequireString("status")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		params := url.Values{"project_path": {projectPath}}
		payload := map[string]interface{}{"status": status}

		return doRequest(ctx, log, http.MethodPatch, featureURL(cfg.DaemonURL, featureID, "", params), payload)
	}
}
