package embedding

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"

	"github.com/codementor/ragindex/internal/config"
)

// HugotProvider runs a sentence-transformer model in process
type HugotProvider struct {
	model    string
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
	mu       sync.Mutex // the pipeline is not safe for concurrent runs
	dims     dimensionCache
}

// NewHugotProvider loads cfg.Model from cfg.Hugot.ModelDir, downloading it
// from the Hugging Face hub on first use.
func NewHugotProvider(cfg config.EmbeddingConfig) (*HugotProvider, error) {
	modelPath, err := prepareModel(cfg.Model, cfg.Hugot.ModelDir)
	if err != nil {
		return nil, err
	}

	// Initialize hugot session with Go backend
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "ragindex-embedder",
	})
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create embedding pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create embedding pipeline: %w", err)
	}

	return &HugotProvider{model: cfg.Model, session: session, pipeline: pipeline}, nil
}

// prepareModel downloads the model if it doesn't exist and returns the model path
func prepareModel(model, dir string) (string, error) {
	modelPath := filepath.Join(dir, strings.ReplaceAll(model, "/", "_"))
	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	} else if !os.IsNotExist(err) {
		return "", err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}
	opts := hugot.NewDownloadOptions()
	opts.OnnxFilePath = "onnx/model.onnx"
	downloaded, err := hugot.DownloadModel(model, dir, opts)
	if err != nil {
		return "", fmt.Errorf("failed to download model: %w", err)
	}
	return downloaded, nil
}

func (p *HugotProvider) Name() string {
	return p.model
}

func (p *HugotProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, p, text)
}

func (p *HugotProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	result, err := p.pipeline.RunPipeline(texts)
	p.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	return result.Embeddings, nil
}

func (p *HugotProvider) Dimension(ctx context.Context) (int, error) {
	return p.dims.get(ctx, func(ctx context.Context) (int, error) {
		return probeDimension(ctx, p)
	})
}

// CheckHealth always succeeds once the pipeline is loaded
func (p *HugotProvider) CheckHealth(context.Context) error {
	return nil
}

// Close releases the hugot session
func (p *HugotProvider) Close() error {
	return p.session.Destroy()
}
