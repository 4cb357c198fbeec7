package inferclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type httpServerStatusClient struct {
	client  *http.Client
	baseURL string
}

func newHTTPServerStatusClient(url string) *httpServerStatusClient {
	return &httpServerStatusClient{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: url,
	}
}

type wireModelStatus struct {
	ModelName     string `json:"model_name"`
	VersionStatus map[string]struct {
		InferStats map[string]struct {
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
		} `json:"infer_stats"`
	} `json:"version_status"`
}

func (c *httpServerStatusClient) GetModelStatus(ctx context.Context, modelName string) (ServerModelStatus, error) {
	u := fmt.Sprintf("%s/v2/models/%s/status", c.baseURL, modelName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return ServerModelStatus{}, fmt.Errorf("build status request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return ServerModelStatus{}, fmt.Errorf("get model status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return ServerModelStatus{}, fmt.Errorf("get model status: status %d: %s", resp.StatusCode, string(body))
	}

	var wire wireModelStatus
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return ServerModelStatus{}, fmt.Errorf("get model status: decode: %w", err)
	}

	return decodeWireStatus(wire)
}

func decodeWireStatus(wire wireModelStatus) (ServerModelStatus, error) {
	status := ServerModelStatus{
		ModelName:     wire.ModelName,
		VersionStatus: make(map[int64]map[uint32]InferStats, len(wire.VersionStatus)),
	}
	for versionStr, v := range wire.VersionStatus {
		version, err := parseInt64(versionStr)
		if err != nil {
			return ServerModelStatus{}, fmt.Errorf("parse version %q: %w", versionStr, err)
		}
		byBatch := make(map[uint32]InferStats, len(v.InferStats))
		for batchStr, s := range v.InferStats {
			batch, err := parseUint32(batchStr)
			if err != nil {
				return ServerModelStatus{}, fmt.Errorf("parse batch size %q: %w", batchStr, err)
			}
			byBatch[batch] = InferStats{
				SuccessCount:     s.Success.Count,
				SuccessTotalTime: s.Success.TotalNS,
				QueueTotalTime:   s.Queue.TotalNS,
				ComputeTotalTime: s.Compute.TotalNS,
			}
		}
		status.VersionStatus[version] = byBatch
	}
	return status, nil
}
