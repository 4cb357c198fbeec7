package inferclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/google/uuid"
)

const (
	defaultHTTPTimeout         = 60 * time.Second
	defaultMaxIdleConnsPerHost = 256
)

// httpContext implements Context over a KServe-v2-shaped REST API:
// POST /v2/models/{name}/versions/{version}/infer
type httpContext struct {
	client       *http.Client
	baseURL      string
	modelName    string
	modelVersion int64
	maxBatchSize uint32

	mu       sync.Mutex
	opts     RunOptions
	inputs   []Input
	payloads map[string][]byte // precomputed pseudo-random input bytes

	stat contextStatCounters

	// async bookkeeping: in-flight submit times keyed by request id, and a
	// channel fed by a background goroutine per submitted request.
	asyncMu  sync.Mutex
	inFlight map[RequestID]int64
	ready    chan asyncResult
	// pollLimiter paces the non-blocking poll path so a worker spinning on
	// GetReadyAsyncRequest(blocking=false) does not busy-loop the CPU
	// while waiting for the next completion.
	pollLimiter *rate.Limiter
}

type asyncResult struct {
	id     RequestID
	timing Timing
	err    error
}

// contextStatCounters holds the four accumulators as atomics so Stat() can
// be read from a worker's critical section without any additional lock.
type contextStatCounters struct {
	completed      atomic.Uint64
	totalRequestNS atomic.Int64
	sendNS         atomic.Int64
	receiveNS      atomic.Int64
}

func (c *contextStatCounters) snapshot() ContextStat {
	return ContextStat{
		CompletedRequestCount:      c.completed.Load(),
		CumulativeTotalRequestTime: c.totalRequestNS.Load(),
		CumulativeSendTime:         c.sendNS.Load(),
		CumulativeReceiveTime:      c.receiveNS.Load(),
	}
}

func (c *contextStatCounters) record(requestNS, sendNS, receiveNS int64) {
	c.completed.Add(1)
	c.totalRequestNS.Add(requestNS)
	c.sendNS.Add(sendNS)
	c.receiveNS.Add(receiveNS)
}

func newHTTPContext(url, modelName string, modelVersion int64) (Context, error) {
	transport := &http.Transport{
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
	}
	hc := &httpContext{
		client:       &http.Client{Timeout: defaultHTTPTimeout, Transport: transport},
		baseURL:      url,
		modelName:    modelName,
		modelVersion: modelVersion,
		inFlight:     make(map[RequestID]int64),
		ready:        make(chan asyncResult, 4096),
		pollLimiter:  rate.NewLimiter(rate.Every(time.Millisecond), 1),
	}

	meta, err := hc.fetchModelMetadata()
	if err != nil {
		return nil, fmt.Errorf("create context for %s: %w", modelName, err)
	}
	hc.inputs = meta.Inputs
	hc.payloads = make(map[string][]byte, len(meta.Inputs))
	var maxSize int64
	for _, in := range meta.Inputs {
		if in.ByteSize < 0 {
			return nil, fmt.Errorf("create context for %s: input %q: %w", modelName, in.Name, ErrVariableSizeInput)
		}
		if in.ByteSize > maxSize {
			maxSize = in.ByteSize
		}
	}
	for _, in := range meta.Inputs {
		buf := make([]byte, in.ByteSize)
		_, _ = rand.Read(buf)
		hc.payloads[in.Name] = buf
	}
	hc.maxBatchSize = meta.MaxBatchSize
	return hc, nil
}

// modelMetadata is the subset of a KServe-v2 model-metadata response this
// context needs.
type modelMetadata struct {
	MaxBatchSize uint32  `json:"max_batch_size"`
	Inputs       []Input `json:"-"`
}

func (c *httpContext) fetchModelMetadata() (modelMetadata, error) {
	u := fmt.Sprintf("%s/v2/models/%s", c.baseURL, c.modelName)
	resp, err := c.client.Get(u)
	if err != nil {
		return modelMetadata{}, fmt.Errorf("fetch model metadata: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return modelMetadata{}, fmt.Errorf("fetch model metadata: status %d: %s", resp.StatusCode, string(body))
	}

	var wire struct {
		MaxBatchSize uint32 `json:"max_batch_size"`
		Inputs       []struct {
			Name     string `json:"name"`
			ByteSize int64  `json:"byte_size"`
		} `json:"inputs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return modelMetadata{}, fmt.Errorf("fetch model metadata: decode: %w", err)
	}

	meta := modelMetadata{MaxBatchSize: wire.MaxBatchSize}
	for _, in := range wire.Inputs {
		meta.Inputs = append(meta.Inputs, Input{Name: in.Name, ByteSize: in.ByteSize})
	}
	return meta, nil
}

func (c *httpContext) MaxBatchSize() uint32 { return c.maxBatchSize }

func (c *httpContext) Inputs() []Input { return c.inputs }

func (c *httpContext) SetRunOptions(opts RunOptions) error {
	if opts.BatchSize > c.maxBatchSize {
		return fmt.Errorf("%w: requested %d, max %d", ErrBatchSizeTooLarge, opts.BatchSize, c.maxBatchSize)
	}
	c.mu.Lock()
	c.opts = opts
	c.mu.Unlock()
	return nil
}

type inferRequest struct {
	Inputs  []wireInput  `json:"inputs"`
	Outputs []wireOutput `json:"outputs,omitempty"`
}

type wireInput struct {
	Name     string `json:"name"`
	Shape    []int  `json:"shape"`
	Datatype string `json:"datatype"`
	Data     []byte `json:"data"`
}

type wireOutput struct {
	Name string `json:"name"`
}

func (c *httpContext) buildRequest() inferRequest {
	c.mu.Lock()
	opts := c.opts
	c.mu.Unlock()

	req := inferRequest{}
	for _, in := range c.inputs {
		req.Inputs = append(req.Inputs, wireInput{
			Name:     in.Name,
			Shape:    []int{int(opts.BatchSize)},
			Datatype: "BYTES",
			Data:     c.payloads[in.Name],
		})
	}
	for _, name := range opts.RequestedOutputs {
		req.Outputs = append(req.Outputs, wireOutput{Name: name})
	}
	return req
}

// Run issues one synchronous call, recording submit/complete timestamps
// and adding the request to the context's cumulative stat counters with
// one record() call (four separate atomic adds, not one atomic update);
// callers read Stat() under their own critical section immediately
// afterward to capture the updated snapshot.
func (c *httpContext) Run(ctx context.Context) (Timing, error) {
	body, err := json.Marshal(c.buildRequest())
	if err != nil {
		return Timing{}, fmt.Errorf("marshal request: %w", err)
	}

	sendStart := time.Now()
	u := fmt.Sprintf("%s/v2/models/%s/versions/%s/infer", c.baseURL, c.modelName, strconv.FormatInt(c.modelVersion, 10))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return Timing{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	submitNS := sendStart.UnixNano()
	resp, err := c.client.Do(httpReq)
	sendEnd := time.Now()
	if err != nil {
		return Timing{}, fmt.Errorf("infer request: %w", err)
	}
	defer resp.Body.Close()

	recvStart := time.Now()
	respBody, err := io.ReadAll(resp.Body)
	recvEnd := time.Now()
	if err != nil {
		return Timing{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Timing{}, fmt.Errorf("infer request: status %d: %s", resp.StatusCode, string(respBody))
	}

	completeNS := recvEnd.UnixNano()
	sendNS := sendEnd.Sub(sendStart).Nanoseconds()
	receiveNS := recvEnd.Sub(recvStart).Nanoseconds()
	c.stat.record(completeNS-submitNS, sendNS, receiveNS)

	return Timing{SubmitNS: submitNS, CompleteNS: completeNS}, nil
}

// AsyncRun submits one request on a background goroutine and returns
// immediately with an id the worker can use to match the completion
// back to this submission.
func (c *httpContext) AsyncRun(ctx context.Context) (RequestID, error) {
	id := RequestID(uuid.New().String())
	submitNS := time.Now().UnixNano()

	c.asyncMu.Lock()
	c.inFlight[id] = submitNS
	c.asyncMu.Unlock()

	go func() {
		timing, err := c.Run(ctx)
		if err != nil {
			c.ready <- asyncResult{id: id, err: err}
			return
		}
		timing.SubmitNS = submitNS
		c.ready <- asyncResult{id: id, timing: timing}
	}()

	return id, nil
}

// GetReadyAsyncRequest waits for (blocking) or polls for (non-blocking)
// one completed request.
func (c *httpContext) GetReadyAsyncRequest(ctx context.Context, blocking bool) (RequestID, Timing, error) {
	if blocking {
		select {
		case r := <-c.ready:
			return c.finishAsync(r)
		case <-ctx.Done():
			return "", Timing{}, ctx.Err()
		}
	}

	_ = c.pollLimiter.Wait(ctx)
	select {
	case r := <-c.ready:
		return c.finishAsync(r)
	default:
		return "", Timing{}, ErrUnavailable
	}
}

func (c *httpContext) finishAsync(r asyncResult) (RequestID, Timing, error) {
	c.asyncMu.Lock()
	delete(c.inFlight, r.id)
	c.asyncMu.Unlock()
	if r.err != nil {
		return r.id, Timing{}, r.err
	}
	return r.id, r.timing, nil
}

func (c *httpContext) Stat() ContextStat {
	return c.stat.snapshot()
}

func (c *httpContext) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
