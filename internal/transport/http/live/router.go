package livehttp

import (
	"bufio"
	"context"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"weexagent/internal/decision"
	"weexagent/internal/logger"
	"weexagent/internal/store/decisionlog"

	"github.com/gin-gonic/gin"
)

const maxLogLineSize = 1024 * 1024

// Router 暴露实盘相关的查询接口（决策/引擎/行情连接/日志）。
type Router struct {
	Logs     DecisionLister
	Engine   EngineStatusProvider
	Stream   StreamStatsProvider
	logPaths map[string]string
	logNames []string
}

// NewRouter 构造 live HTTP router。
func NewRouter(logs DecisionLister, engine EngineStatusProvider, stream StreamStatsProvider, logPaths map[string]string) *Router {
	names := make([]string, 0, len(logPaths))
	for name, path := range logPaths {
		if strings.TrimSpace(path) == "" || strings.TrimSpace(name) == "" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return &Router{Logs: logs, Engine: engine, Stream: stream, logPaths: logPaths, logNames: names}
}

// Register 将 /api/live 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/decisions", r.handleLiveDecisions)
	group.GET("/decisions/:trace", r.handleDecisionTrace)
	group.GET("/status", r.handleEngineStatus)
	group.GET("/stream", r.handleStreamStats)
	group.GET("/logs", r.handleLiveLogs)
}

func (r *Router) handleLiveDecisions(c *gin.Context) {
	if r.Logs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision store unavailable"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	query := decisionlog.Query{
		TraceID: strings.TrimSpace(c.Query("trace_id")),
		Source:  decision.Source(strings.ToUpper(strings.TrimSpace(c.Query("source")))),
		Stage:   decision.Stage(strings.ToLower(strings.TrimSpace(c.Query("stage")))),
		Limit:   limit,
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	records, err := r.Logs.List(ctx, query)
	if err != nil {
		logger.Errorf("[http] live decisions list failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records), "limit": limit})
}

func (r *Router) handleDecisionTrace(c *gin.Context) {
	if r.Logs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision store unavailable"})
		return
	}
	trace := strings.TrimSpace(c.Param("trace"))
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	records, err := r.Logs.List(ctx, decisionlog.Query{TraceID: trace, Limit: 10})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(records) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "trace not found", "trace_id": trace})
		return
	}
	// 按时间正序展示 signal -> execution
	sort.SliceStable(records, func(i, j int) bool { return records[i].Timestamp.Before(records[j].Timestamp) })
	c.JSON(http.StatusOK, gin.H{"trace_id": trace, "records": records})
}

func (r *Router) handleEngineStatus(c *gin.Context) {
	if r.Engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine unavailable"})
		return
	}
	c.JSON(http.StatusOK, r.Engine.Status())
}

func (r *Router) handleStreamStats(c *gin.Context) {
	if r.Stream == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream unavailable"})
		return
	}
	c.JSON(http.StatusOK, r.Stream.Stats())
}

func (r *Router) handleLiveLogs(c *gin.Context) {
	if len(r.logNames) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no log files configured"})
		return
	}
	name := strings.TrimSpace(c.DefaultQuery("name", ""))
	path := ""
	if name != "" {
		path = strings.TrimSpace(r.logPaths[name])
	}
	if path == "" {
		name = r.logNames[0]
		path = r.logPaths[name]
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if limit <= 0 {
		limit = 200
	}
	lines, err := readLastLines(path, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "path": path})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":      name,
		"path":      path,
		"lines":     lines,
		"available": r.logNames,
	})
}

func readLastLines(path string, limit int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxLogLineSize)
	lines := make([]string, 0, limit)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > limit {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
