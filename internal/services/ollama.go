package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/MegaGrindStone/ollama-cli/internal/models"
	"github.com/ollama/ollama/api"
)

// errStopped ends a daemon stream once the consumer stops ranging.
var errStopped = errors.New("stream stopped by consumer")

// pullSuccessStatus is the last status of a pull that completed. The daemon client does not report a
// connection dropped mid-stream, so a stream without it is treated as cut off.
const pullSuccessStatus = "success"

// DefaultOllamaHost is the daemon address used when neither the config nor OLLAMA_HOST sets one.
const DefaultOllamaHost = "http://localhost:11434"

// Ollama is a typed client for the local Ollama daemon. Unary calls are bounded by the request timeout;
// pull and chat streams are not, since they have no natural upper bound.
type Ollama struct {
	host           string
	requestTimeout time.Duration

	client *api.Client

	logger *slog.Logger
}

// NewOllama creates a new Ollama client for the daemon at host. A zero requestTimeout leaves unary
// calls unbounded. It returns an error if host is not a valid URL.
func NewOllama(host string, requestTimeout time.Duration, logger *slog.Logger) (Ollama, error) {
	if host == "" {
		host = DefaultOllamaHost
	}
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: scheme and host are required", host)
	}

	return Ollama{
		host:           host,
		requestTimeout: requestTimeout,
		client:         api.NewClient(u, &http.Client{}),
		logger:         logger.With(slog.String("module", "ollama")),
	}, nil
}

// Host returns the daemon address the client talks to.
func (o Ollama) Host() string {
	return o.host
}

func (o Ollama) unaryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.requestTimeout)
}

// Ping reports whether the daemon answers. It never fails: any error is logged and reported as false.
func (o Ollama) Ping(ctx context.Context) bool {
	ctx, cancel := o.unaryContext(ctx)
	defer cancel()

	if err := o.client.Heartbeat(ctx); err != nil {
		o.logger.Debug("Heartbeat failed", slog.String(errLoggerKey, err.Error()))
		return false
	}
	return true
}

// ListInstalled returns the models stored by the daemon. An empty installation yields an empty slice.
func (o Ollama) ListInstalled(ctx context.Context) ([]models.InstalledModel, error) {
	ctx, cancel := o.unaryContext(ctx)
	defer cancel()

	res, err := o.client.List(ctx)
	if err != nil {
		return nil, o.classify("list models", err)
	}

	installed := make([]models.InstalledModel, 0, len(res.Models))
	for _, m := range res.Models {
		installed = append(installed, models.InstalledModel{
			Name:       modelName(m.Name, m.Model),
			SizeBytes:  m.Size,
			Digest:     m.Digest,
			ModifiedAt: m.ModifiedAt,
		})
	}
	return installed, nil
}

// ListRunning returns the models currently loaded into the daemon's memory.
func (o Ollama) ListRunning(ctx context.Context) ([]models.RunningModel, error) {
	ctx, cancel := o.unaryContext(ctx)
	defer cancel()

	res, err := o.client.ListRunning(ctx)
	if err != nil {
		return nil, o.classify("list running models", err)
	}

	running := make([]models.RunningModel, 0, len(res.Models))
	for _, m := range res.Models {
		running = append(running, models.RunningModel{
			Name:      modelName(m.Name, m.Model),
			SizeBytes: m.Size,
			SizeVRAM:  m.SizeVRAM,
			ExpiresAt: m.ExpiresAt,
		})
	}
	return running, nil
}

// Pull downloads the named model, yielding every progress update the daemon emits. Ranging over the
// sequence to the end without an error means the model is installed. An abnormal end yields a single
// error wrapping models.ErrPullFailed, or models.ErrDaemonUnreachable if the daemon could not be
// reached. Each range issues a new pull request.
func (o Ollama) Pull(ctx context.Context, name string) iter.Seq2[models.PullProgress, error] {
	return func(yield func(models.PullProgress, error) bool) {
		t := true
		req := api.PullRequest{
			Model:  name,
			Stream: &t,
		}

		done := false
		err := o.client.Pull(ctx, &req, func(res api.ProgressResponse) error {
			if res.Status == pullSuccessStatus {
				done = true
			}
			if !yield(models.PullProgress{
				Status:    res.Status,
				Digest:    res.Digest,
				Completed: res.Completed,
				Total:     res.Total,
			}, nil) {
				return errStopped
			}
			return nil
		})
		if errors.Is(err, errStopped) {
			return
		}
		if err == nil && !done {
			err = io.ErrUnexpectedEOF
		}
		if err != nil {
			o.logger.Error("Pull failed", slog.String("model", name), slog.String(errLoggerKey, err.Error()))
			yield(models.PullProgress{}, o.streamError(models.ErrPullFailed, err))
		}
	}
}

// Delete removes the named model from the daemon's disk.
func (o Ollama) Delete(ctx context.Context, name string) error {
	ctx, cancel := o.unaryContext(ctx)
	defer cancel()

	if err := o.client.Delete(ctx, &api.DeleteRequest{Model: name}); err != nil {
		return o.classify("delete model", err)
	}
	return nil
}

// Chat streams the reply to a single user message from the named model. Fragments are yielded in the
// order the daemon sends them. If the stream breaks, the fragments already yielded stand and one final
// error wrapping models.ErrChatFailed is yielded.
func (o Ollama) Chat(ctx context.Context, model string, message models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		t := true
		req := api.ChatRequest{
			Model: model,
			Messages: []api.Message{
				{
					Role:    string(message.Role),
					Content: message.Content,
				},
			},
			Stream: &t,
		}

		done := false
		err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if res.Done {
				done = true
			}
			if res.Message.Content == "" {
				return nil
			}
			if !yield(res.Message.Content, nil) {
				return errStopped
			}
			return nil
		})
		if errors.Is(err, errStopped) {
			return
		}
		if err == nil && !done {
			err = io.ErrUnexpectedEOF
		}
		if err != nil {
			o.logger.Error("Chat stream failed", slog.String("model", model), slog.String(errLoggerKey, err.Error()))
			yield("", o.streamError(models.ErrChatFailed, err))
		}
	}
}

// Unload asks the daemon to evict the named model from memory right away, by issuing an empty generate
// request with a zero keep-alive. The model is looked up first, since the generate endpoint reports an
// unknown model only as a plain message.
func (o Ollama) Unload(ctx context.Context, name string) error {
	ctx, cancel := o.unaryContext(ctx)
	defer cancel()

	if _, err := o.client.Show(ctx, &api.ShowRequest{Model: name}); err != nil {
		return o.classify("unload model", err)
	}

	f := false
	req := api.GenerateRequest{
		Model:     name,
		Stream:    &f,
		KeepAlive: &api.Duration{Duration: 0},
	}
	if err := o.client.Generate(ctx, &req, func(api.GenerateResponse) error { return nil }); err != nil {
		return o.classify("unload model", err)
	}
	return nil
}

// modelName normalizes the two names the daemon may report for a model. Older daemons only fill "name",
// newer ones also fill "model".
func modelName(name, model string) string {
	if name != "" {
		return name
	}
	return model
}

func isUnreachable(err error) bool {
	var urlErr *url.Error
	return errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded)
}

// classify maps a unary call failure onto the shared error taxonomy.
func (o Ollama) classify(op string, err error) error {
	if isUnreachable(err) {
		o.logger.Warn("Daemon unreachable", slog.String("op", op), slog.String(errLoggerKey, err.Error()))
		return fmt.Errorf("%w: %s: %w", models.ErrDaemonUnreachable, op, err)
	}

	var statusErr api.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s: %s", models.ErrNotFound, op, statusErr.ErrorMessage)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (o Ollama) streamError(kind error, err error) error {
	if isUnreachable(err) {
		return fmt.Errorf("%w: %w: %w", kind, models.ErrDaemonUnreachable, err)
	}
	return fmt.Errorf("%w: %w", kind, err)
}
