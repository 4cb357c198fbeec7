// Package mockserver is a synthetic KServe-v2-shaped inference server
// used by inferperf's own tests and by operators smoke-testing the CLI
// without a real model server.
package mockserver

import (
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the mock inference server.
type Server struct {
	state  *State
	router *gin.Engine
	logger *slog.Logger
}

// NewServer builds a mock server over state. A nil state allocates a
// fresh one.
func NewServer(state *State) *Server {
	if state == nil {
		state = NewState()
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		state:  state,
		router: router,
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
	s.setupRoutes()
	return s
}

// Router returns the gin router, for httptest-backed unit tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// State returns the underlying state for test manipulation.
func (s *Server) State() *State {
	return s.state
}

func (s *Server) setupRoutes() {
	s.router.GET("/v2/models/:name", s.handleModelMetadata)
	s.router.GET("/v2/models/:name/status", s.handleModelStatus)
	s.router.POST("/v2/models/:name/versions/:version/infer", s.handleInfer)

	s.router.GET("/_test/health", s.handleHealth)
	s.router.POST("/_test/reset", s.handleTestReset)
	s.router.POST("/_test/config", s.handleTestConfig)

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

type wireInputMeta struct {
	Name     string `json:"name"`
	ByteSize int64  `json:"byte_size"`
}

type modelMetadataResponse struct {
	MaxBatchSize uint32          `json:"max_batch_size"`
	Inputs       []wireInputMeta `json:"inputs"`
}

func (s *Server) handleModelMetadata(c *gin.Context) {
	name := c.Param("name")
	m, ok := s.state.get(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "model not found"})
		return
	}

	maxBatch, inputs, _ := m.snapshotMeta()
	resp := modelMetadataResponse{MaxBatchSize: maxBatch}
	for _, in := range inputs {
		resp.Inputs = append(resp.Inputs, wireInputMeta{Name: in.Name, ByteSize: in.ByteSize})
	}
	c.JSON(http.StatusOK, resp)
}

type wireInferStats struct {
	Success struct {
		Count    uint64 `json:"count"`
		TotalNS  int64  `json:"total_time_ns"`
	} `json:"success"`
	Queue struct {
		TotalNS int64 `json:"total_time_ns"`
	} `json:"queue"`
	Compute struct {
		TotalNS int64 `json:"total_time_ns"`
	} `json:"compute"`
}

type versionStatusWire struct {
	InferStats map[string]wireInferStats `json:"infer_stats"`
}

type modelStatusResponse struct {
	ModelName     string                       `json:"model_name"`
	VersionStatus map[string]versionStatusWire `json:"version_status"`
}

func (s *Server) handleModelStatus(c *gin.Context) {
	name := c.Param("name")
	m, ok := s.state.get(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "model not found"})
		return
	}

	snapshot := m.snapshotStats()
	resp := modelStatusResponse{
		ModelName:     name,
		VersionStatus: make(map[string]versionStatusWire, len(snapshot)),
	}
	for version, batches := range snapshot {
		batchMap := make(map[string]wireInferStats, len(batches))
		for batchSize, stats := range batches {
			var w wireInferStats
			w.Success.Count = stats.SuccessCount
			w.Success.TotalNS = stats.SuccessTotalTime
			w.Queue.TotalNS = stats.QueueTotalTime
			w.Compute.TotalNS = stats.ComputeTotalTime
			batchMap[strconv.FormatUint(uint64(batchSize), 10)] = w
		}
		resp.VersionStatus[strconv.FormatInt(version, 10)] = versionStatusWire{InferStats: batchMap}
	}
	c.JSON(http.StatusOK, resp)
}

type inferRequestWire struct {
	Inputs []struct {
		Name  string `json:"name"`
		Shape []int  `json:"shape"`
		Data  []byte `json:"data"`
	} `json:"inputs"`
}

// wireBatchSize recovers the batch size a request was built with from its
// first input's shape (buildRequest always puts batch size at Shape[0]),
// since the number of named inputs reflects the model's input count, not
// how many examples are in the batch.
func wireBatchSize(req inferRequestWire) uint32 {
	if len(req.Inputs) == 0 || len(req.Inputs[0].Shape) == 0 {
		return 1
	}
	return uint32(req.Inputs[0].Shape[0])
}

func (s *Server) handleInfer(c *gin.Context) {
	name := c.Param("name")
	version, err := strconv.ParseInt(c.Param("version"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid version"})
		return
	}

	m, ok := s.state.get(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "model not found"})
		return
	}

	var req inferRequestWire
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	batchSize := wireBatchSize(req)

	latency := m.beginInfer()
	defer m.endInfer()

	queueNS := int64(rand.Intn(1000000))
	computeNS := latency.Nanoseconds() - queueNS
	if computeNS < 0 {
		computeNS = latency.Nanoseconds()
		queueNS = 0
	}
	time.Sleep(latency)

	m.recordInfer(version, batchSize, queueNS, computeNS)
	c.JSON(http.StatusOK, gin.H{"model_name": name, "outputs": []any{}})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "type": "mock-inference-server"})
}

func (s *Server) handleTestReset(c *gin.Context) {
	s.state.Reset()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// TestConfigRequest configures a model's simulated behavior.
type TestConfigRequest struct {
	ModelName     string          `json:"model_name"`
	MaxBatchSize  uint32          `json:"max_batch_size"`
	Inputs        []wireInputMeta `json:"inputs"`
	LatencyMS     int             `json:"latency_ms"`
	LatencyRampMS int             `json:"latency_ramp_ms"`
	Version       int64           `json:"version"`
}

func (s *Server) handleTestConfig(c *gin.Context) {
	var req TestConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inputs := make([]InputSpec, 0, len(req.Inputs))
	for _, in := range req.Inputs {
		inputs = append(inputs, InputSpec{Name: in.Name, ByteSize: in.ByteSize})
	}
	s.state.Configure(req.ModelName, req.MaxBatchSize, inputs, time.Duration(req.LatencyMS)*time.Millisecond, req.Version)
	if req.LatencyRampMS > 0 {
		s.state.SetLatencyRamp(req.ModelName, time.Duration(req.LatencyRampMS)*time.Millisecond)
	}
	c.JSON(http.StatusOK, gin.H{"status": "configured"})
}

// Run starts the server on addr.
func (s *Server) Run(addr string) error {
	s.logger.Info("starting mock inference server", "addr", addr)
	return s.router.Run(addr)
}

// ServeHTTP implements http.Handler, for httptest.Server-backed tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
