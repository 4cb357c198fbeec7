package inferclient

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const defaultGRPCTimeout = 60 * time.Second

// grpcContext implements Context over google.golang.org/grpc, using the
// JSON codec registered in jsoncodec.go instead of generated protobuf
// bindings so the same wire request/response shapes serve both
// transports.
type grpcContext struct {
	conn         *grpc.ClientConn
	modelName    string
	modelVersion int64
	maxBatchSize uint32

	mu       sync.Mutex
	opts     RunOptions
	inputs   []Input
	payloads map[string][]byte

	stat contextStatCounters

	asyncMu     sync.Mutex
	inFlight    map[RequestID]int64
	ready       chan asyncResult
	pollLimiter *rate.Limiter
}

func newGRPCContext(target, modelName string, modelVersion int64) (Context, error) {
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	gc := &grpcContext{
		conn:         conn,
		modelName:    modelName,
		modelVersion: modelVersion,
		inFlight:     make(map[RequestID]int64),
		ready:        make(chan asyncResult, 4096),
		pollLimiter:  rate.NewLimiter(rate.Every(time.Millisecond), 1),
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultGRPCTimeout)
	defer cancel()

	var meta struct {
		MaxBatchSize uint32 `json:"max_batch_size"`
		Inputs       []struct {
			Name     string `json:"name"`
			ByteSize int64  `json:"byte_size"`
		} `json:"inputs"`
	}
	req := struct {
		ModelName string `json:"model_name"`
	}{ModelName: modelName}
	if err := conn.Invoke(ctx, "/inference.GRPCInferenceService/ModelMetadata", &req, &meta); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create context for %s: %w", modelName, err)
	}

	gc.maxBatchSize = meta.MaxBatchSize
	gc.payloads = make(map[string][]byte, len(meta.Inputs))
	for _, in := range meta.Inputs {
		if in.ByteSize < 0 {
			conn.Close()
			return nil, fmt.Errorf("create context for %s: input %q: %w", modelName, in.Name, ErrVariableSizeInput)
		}
		gc.inputs = append(gc.inputs, Input{Name: in.Name, ByteSize: in.ByteSize})
		buf := make([]byte, in.ByteSize)
		_, _ = rand.Read(buf)
		gc.payloads[in.Name] = buf
	}

	return gc, nil
}

func (c *grpcContext) MaxBatchSize() uint32 { return c.maxBatchSize }

func (c *grpcContext) Inputs() []Input { return c.inputs }

func (c *grpcContext) SetRunOptions(opts RunOptions) error {
	if opts.BatchSize > c.maxBatchSize {
		return fmt.Errorf("%w: requested %d, max %d", ErrBatchSizeTooLarge, opts.BatchSize, c.maxBatchSize)
	}
	c.mu.Lock()
	c.opts = opts
	c.mu.Unlock()
	return nil
}

func (c *grpcContext) buildRequest() inferRequest {
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

func (c *grpcContext) Run(ctx context.Context) (Timing, error) {
	req := c.buildRequest()
	var resp struct{}

	submitNS := time.Now().UnixNano()
	method := fmt.Sprintf("/inference.GRPCInferenceService/ModelInfer/%s/%d", c.modelName, c.modelVersion)
	sendStart := time.Now()
	if err := c.conn.Invoke(ctx, method, &req, &resp); err != nil {
		return Timing{}, fmt.Errorf("infer request: %w", err)
	}
	completeTime := time.Now()
	completeNS := completeTime.UnixNano()

	sendNS := completeTime.Sub(sendStart).Nanoseconds()
	c.stat.record(completeNS-submitNS, sendNS, 0)

	return Timing{SubmitNS: submitNS, CompleteNS: completeNS}, nil
}

func (c *grpcContext) AsyncRun(ctx context.Context) (RequestID, error) {
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

func (c *grpcContext) GetReadyAsyncRequest(ctx context.Context, blocking bool) (RequestID, Timing, error) {
	if blocking {
		select {
		case r := <-c.ready:
			return finishAsyncResult(c.inFlight, &c.asyncMu, r)
		case <-ctx.Done():
			return "", Timing{}, ctx.Err()
		}
	}

	_ = c.pollLimiter.Wait(ctx)
	select {
	case r := <-c.ready:
		return finishAsyncResult(c.inFlight, &c.asyncMu, r)
	default:
		return "", Timing{}, ErrUnavailable
	}
}

func finishAsyncResult(inFlight map[RequestID]int64, mu *sync.Mutex, r asyncResult) (RequestID, Timing, error) {
	mu.Lock()
	delete(inFlight, r.id)
	mu.Unlock()
	if r.err != nil {
		return r.id, Timing{}, r.err
	}
	return r.id, r.timing, nil
}

func (c *grpcContext) Stat() ContextStat {
	return c.stat.snapshot()
}

func (c *grpcContext) Close() error {
	return c.conn.Close()
}
