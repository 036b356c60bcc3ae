package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

func initToolsChain(logger *zap.Logger) []tool.BaseTool {
	var tools []tool.BaseTool
	if ws := initWebSearch(logger); ws != nil {
		tools = append(tools, ws)
	}
	return tools
}

// initWebSearch builds a single web_search tool that prefers Google and falls
// back to DuckDuckGo.
func initWebSearch(logger *zap.Logger) tool.InvokableTool {
	googleTool := initGoogleSearch(logger)
	duckTool := initDDGSearch(logger)
	if googleTool == nil && duckTool == nil {
		logger.Info("web search tool disabled: no search providers available")
		return nil
	}

	ws := &webSearchTool{
		google: googleTool,
		duck:   duckTool,
		logger: logger,
	}

	info := &schema.ToolInfo{
		Name: "web_search",
		Desc: "Search the web for information; automatically falls back to another provider if needed.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "Natural language query to search",
				Type:     schema.String,
				Required: true,
			},
		}),
	}

	return utils.NewTool(info, ws.run)
}

type webSearchTool struct {
	google tool.InvokableTool
	duck   tool.InvokableTool
	logger *zap.Logger
}

type webSearchParams struct {
	Query string `json:"query"`
}

func (w *webSearchTool) run(ctx context.Context, params *webSearchParams) (string, error) {
	if params == nil {
		return "", errors.New("missing search parameters")
	}
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return "", errors.New("query must not be empty")
	}

	payloadBytes, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return "", fmt.Errorf("marshal search params: %w", err)
	}
	payload := string(payloadBytes)

	if w.google != nil {
		if result, err := w.google.InvokableRun(ctx, payload); err == nil {
			return result, nil
		} else {
			w.logger.Warn("google search failed", zap.Error(err))
		}
	}

	if w.duck != nil {
		if result, err := w.duck.InvokableRun(ctx, payload); err == nil {
			return result, nil
		} else {
			w.logger.Warn("duckduckgo search failed", zap.Error(err))
		}
	}

	return "", errors.New("no search provider succeeded")
}

func initDDGSearch(logger *zap.Logger) tool.InvokableTool {
	duckTool, err := duckduckgo.NewTextSearchTool(context.Background(), &duckduckgo.Config{
		ToolName:   "web_search_ddg",
		ToolDesc:   "DuckDuckGo Search Tool (no token required)",
		MaxResults: 3,
		Region:     duckduckgo.RegionWT,
		Timeout:    10 * time.Second,
	})
	if err != nil {
		logger.Warn("duckduckgo search disabled", zap.Error(err))
		return nil
	}
	return duckTool
}

func initGoogleSearch(logger *zap.Logger) tool.InvokableTool {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	engineID := os.Getenv("GOOGLE_SEARCH_ENGINE_ID")
	if apiKey == "" || engineID == "" {
		logger.Info("google search disabled: missing GOOGLE_API_KEY or GOOGLE_SEARCH_ENGINE_ID")
		return nil
	}
	googleTool, err := googlesearch.NewTool(context.Background(), &googlesearch.Config{
		ToolName:       "web_search_google",
		ToolDesc:       "Google Search Tool",
		APIKey:         apiKey,
		SearchEngineID: engineID,
		Lang:           "en",
		Num:            5,
	})
	if err != nil {
		logger.Warn("google search disabled", zap.Error(err))
		return nil
	}
	return googleTool
}
