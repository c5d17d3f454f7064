// Package workspace is the registry of datasources. It ties each persisted
// datasource to its attached catalogs, its semantic layer on disk and its
// conversation threads.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/leapstack-labs/leapmetrics/internal/catalog"
	"github.com/leapstack-labs/leapmetrics/internal/chat"
	"github.com/leapstack-labs/leapmetrics/internal/deploy"
	"github.com/leapstack-labs/leapmetrics/internal/oracle"
	"github.com/leapstack-labs/leapmetrics/internal/pipeline"
	"github.com/leapstack-labs/leapmetrics/pkg/adapter"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Config holds workspace dependencies.
type Config struct {
	// LayerDir holds one semantic layer directory per datasource
	LayerDir  string
	Store     core.Store
	Engine    *deploy.Engine
	Oracle    oracle.Oracle
	Publisher catalog.Publisher
	// RowLimit caps generated queries (default pipeline.DefaultRowLimit)
	RowLimit int
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Workspace owns datasources, their layers and their chats.
type Workspace struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	layers map[string]*catalog.SemanticLayer
	chats  map[string]*chat.Chat
}

// Open creates a workspace and re-attaches every persisted datasource.
// A datasource that cannot be attached is logged and stays registered.
func Open(ctx context.Context, cfg Config) (*Workspace, error) {
	if cfg.Store == nil || cfg.Engine == nil {
		return nil, errors.New("workspace requires a store and an engine")
	}
	if cfg.LayerDir == "" {
		return nil, errors.New("workspace requires a layer directory")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(cfg.LayerDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create layer directory: %w", err)
	}

	w := &Workspace{
		cfg:    cfg,
		logger: logger,
		layers: make(map[string]*catalog.SemanticLayer),
		chats:  make(map[string]*chat.Chat),
	}

	sources, err := cfg.Store.ListDataSources(ctx)
	if err != nil {
		return nil, err
	}
	for _, ds := range sources {
		if err := w.attach(ctx, ds); err != nil {
			logger.Warn("failed to re-attach datasource", slog.String("datasource", ds.Name), slog.String("error", err.Error()))
		}
		if _, err := w.loadLayer(ds.Name); err != nil {
			logger.Warn("failed to load semantic layer", slog.String("datasource", ds.Name), slog.String("error", err.Error()))
		}
	}
	return w, nil
}

// CreateDataSource registers a datasource. Type and, when name is empty, the
// name are inferred from the URI.
func (w *Workspace) CreateDataSource(ctx context.Context, uri, name string) (*core.DataSource, error) {
	typ, err := InferType(uri)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = InferName(typ, uri)
	}
	ds := &core.DataSource{Name: name, Type: typ, URI: uri}

	if _, err := w.cfg.Store.GetDataSource(ctx, name); err == nil {
		return nil, &core.DuplicateNameError{Kind: "datasource", Name: name}
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	if err := w.attach(ctx, ds); err != nil {
		return nil, err
	}
	if err := w.cfg.Store.CreateDataSource(ctx, ds); err != nil {
		_ = w.cfg.Engine.Detach(ctx, name)
		return nil, err
	}
	if ds.LastHydrated != nil {
		if err := w.cfg.Store.TouchDataSource(ctx, name, *ds.LastHydrated); err != nil {
			return nil, err
		}
	}
	if _, err := w.loadLayer(name); err != nil {
		return nil, err
	}

	w.logger.Info("datasource created", slog.String("datasource", name), slog.String("type", string(typ)))
	return ds, nil
}

func (w *Workspace) attach(ctx context.Context, ds *core.DataSource) error {
	if ds.Type == core.DataSourcePostgres {
		if err := w.checkReachable(ctx, ds); err != nil {
			return err
		}
	}
	hydrated, err := w.cfg.Engine.Attach(ctx, *ds)
	if err != nil {
		return err
	}
	ds.LastHydrated = &hydrated
	return nil
}

// checkReachable checks a network source is reachable before DuckDB attaches it.
func (w *Workspace) checkReachable(ctx context.Context, ds *core.DataSource) error {
	a, err := adapter.Dial(ctx, *ds, w.logger)
	if err != nil {
		return err
	}
	return a.Close()
}

func (w *Workspace) loadLayer(name string) (*catalog.SemanticLayer, error) {
	opts := []catalog.Option{
		catalog.WithSchemaProvider(w.cfg.Engine.Scoped(name)),
		catalog.WithLogger(w.logger),
	}
	if w.cfg.Oracle != nil {
		opts = append(opts, catalog.WithOracle(w.cfg.Oracle))
	}
	if w.cfg.Publisher != nil {
		opts = append(opts, catalog.WithPublisher(w.cfg.Publisher))
	}
	layer := catalog.New(name, filepath.Join(w.cfg.LayerDir, name), opts...)

	w.mu.Lock()
	w.layers[name] = layer
	w.mu.Unlock()

	if err := layer.Load(); err != nil {
		return layer, err
	}
	return layer, nil
}

// DataSource returns a registered datasource.
func (w *Workspace) DataSource(ctx context.Context, name string) (*core.DataSource, error) {
	return w.cfg.Store.GetDataSource(ctx, name)
}

// DataSources lists registered datasources by name.
func (w *Workspace) DataSources(ctx context.Context) ([]*core.DataSource, error) {
	return w.cfg.Store.ListDataSources(ctx)
}

// Layer returns a datasource's semantic layer.
func (w *Workspace) Layer(name string) (*catalog.SemanticLayer, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for key, layer := range w.layers {
		if strings.EqualFold(key, name) {
			return layer, nil
		}
	}
	return nil, fmt.Errorf("semantic layer for %q: %w", name, core.ErrNotFound)
}

// Engine returns the deployment engine.
func (w *Workspace) Engine() *deploy.Engine { return w.cfg.Engine }

// DeleteDataSource detaches a datasource and removes it with its threads and
// feedback. The layer directory is left on disk.
func (w *Workspace) DeleteDataSource(ctx context.Context, name string) error {
	ds, err := w.cfg.Store.GetDataSource(ctx, name)
	if err != nil {
		return err
	}
	if err := w.cfg.Engine.Detach(ctx, ds.Name); err != nil {
		return err
	}
	if err := w.cfg.Store.DeleteDataSource(ctx, ds.Name); err != nil {
		return err
	}

	w.mu.Lock()
	delete(w.layers, ds.Name)
	for id, c := range w.chats {
		if c.DataSource() == ds.Name {
			delete(w.chats, id)
		}
	}
	w.mu.Unlock()

	w.logger.Info("datasource deleted", slog.String("datasource", ds.Name))
	return nil
}

// Deploy materializes a datasource's layer and records dimension categories on it.
func (w *Workspace) Deploy(ctx context.Context, name string, opts deploy.Options) (*deploy.Report, error) {
	layer, err := w.Layer(name)
	if err != nil {
		return nil, err
	}
	report, err := w.cfg.Engine.Deploy(ctx, layer.DataSource(), layer.Metrics(), opts)
	if err != nil {
		return report, err
	}
	if opts.Statistics {
		layer.ApplyCategories(report.Categories)
	}
	return report, nil
}

// Refine improves a datasource's layer from its unconsumed feedback. Consumed
// feedback is not offered again.
func (w *Workspace) Refine(ctx context.Context, name string, opts catalog.RefineOptions) (*catalog.RefineResult, error) {
	layer, err := w.Layer(name)
	if err != nil {
		return nil, err
	}
	stored, err := w.cfg.Store.ListFeedback(ctx, layer.DataSource(), true)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, catalog.ErrNoFeedback
	}

	feedback := make([]core.Feedback, 0, len(stored))
	ids := make([]int64, 0, len(stored))
	for _, fb := range stored {
		feedback = append(feedback, *fb)
		ids = append(ids, fb.ID)
	}

	result, err := layer.Refine(ctx, feedback, opts)
	if err != nil {
		return nil, err
	}
	if err := w.cfg.Store.MarkFeedbackConsumed(ctx, ids); err != nil {
		return result, err
	}
	return result, nil
}

func (w *Workspace) runner(name string) (*pipeline.Pipeline, error) {
	return pipeline.New(pipeline.Config{
		Oracle:   w.cfg.Oracle,
		Executor: w.cfg.Engine.Scoped(name),
		RowLimit: w.cfg.RowLimit,
		Logger:   w.logger,
	})
}

// Chats lists the threads of a datasource, newest first.
func (w *Workspace) Chats(ctx context.Context, name string) ([]*core.Thread, error) {
	ds, err := w.cfg.Store.GetDataSource(ctx, name)
	if err != nil {
		return nil, err
	}
	threads, err := w.cfg.Store.ListThreads(ctx, ds.Name)
	if err != nil {
		return nil, err
	}
	if threads == nil {
		threads = []*core.Thread{}
	}
	return threads, nil
}

// CopyLayer replaces the layer of to with the metrics and examples of from.
func (w *Workspace) CopyLayer(from, to string, dump bool) (*catalog.SemanticLayer, error) {
	src, err := w.Layer(from)
	if err != nil {
		return nil, err
	}
	dst, err := w.Layer(to)
	if err != nil {
		return nil, err
	}
	if err := dst.CopyFrom(src, dump); err != nil {
		return nil, err
	}
	return dst, nil
}

// NewChat starts a thread on a datasource.
func (w *Workspace) NewChat(ctx context.Context, name string) (*chat.Chat, error) {
	layer, err := w.Layer(name)
	if err != nil {
		return nil, err
	}
	thread := &core.Thread{DataSource: layer.DataSource()}
	if err := w.cfg.Store.CreateThread(ctx, thread); err != nil {
		return nil, err
	}
	return w.bind(thread, layer)
}

// Chat returns the chat for an existing thread.
func (w *Workspace) Chat(ctx context.Context, threadID string) (*chat.Chat, error) {
	w.mu.RLock()
	c, ok := w.chats[threadID]
	w.mu.RUnlock()
	if ok {
		return c, nil
	}

	thread, err := w.cfg.Store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	layer, err := w.Layer(thread.DataSource)
	if err != nil {
		return nil, err
	}
	return w.bind(thread, layer)
}

func (w *Workspace) bind(thread *core.Thread, layer *catalog.SemanticLayer) (*chat.Chat, error) {
	runner, err := w.runner(thread.DataSource)
	if err != nil {
		return nil, err
	}
	c, err := chat.New(chat.Config{
		Thread: thread,
		Store:  w.cfg.Store,
		Layer:  layer,
		Runner: runner,
		Logger: w.logger,
	})
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.chats[thread.ID] = c
	w.mu.Unlock()
	return c, nil
}

// RecordFeedback rates a persisted response of any thread.
func (w *Workspace) RecordFeedback(ctx context.Context, responseID string, sentiment core.Sentiment, reason string) (*core.Feedback, error) {
	resp, err := w.cfg.Store.GetResponse(ctx, responseID)
	if err != nil {
		return nil, err
	}
	c, err := w.Chat(ctx, resp.ThreadID)
	if err != nil {
		return nil, err
	}
	return c.Feedback(ctx, resp, sentiment, reason)
}

// Reload re-reads a datasource's layer from disk.
func (w *Workspace) Reload(name string) error {
	layer, err := w.Layer(name)
	if err != nil {
		return err
	}
	return layer.Load()
}
