package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/ordercore/internal/platform/config"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultRetryBackoff = 2 * time.Second

	envEmulatorHost    = "FIRESTORE_EMULATOR_HOST"
	envGoogleProjectID = "GOOGLE_CLOUD_PROJECT"

	pingCollection = "_health"
	pingDocument   = "ping"
)

var ErrProviderClosed = errors.New("firestore: provider is closed")

// Provider lazily creates the shared Firestore client. After a failed creation
// callers get the same error until the backoff has elapsed.
type Provider struct {
	projectID  string
	databaseID string
	emulator   string

	dialTimeout  time.Duration
	retryBackoff time.Duration
	clientOpts   []option.ClientOption
	newClient    func(ctx context.Context, projectID, databaseID string, opts ...option.ClientOption) (*firestore.Client, error)
	now          func() time.Time

	mu        sync.Mutex
	client    *firestore.Client
	closed    bool
	lastErr   error
	lastErrAt time.Time
}

type ProviderOption func(*Provider)

func WithDialTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.dialTimeout = timeout
		}
	}
}

// WithRetryBackoff sets how long a client creation failure is remembered. Zero retries immediately.
func WithRetryBackoff(backoff time.Duration) ProviderOption {
	return func(p *Provider) {
		if backoff >= 0 {
			p.retryBackoff = backoff
		}
	}
}

func WithClientOptions(opts ...option.ClientOption) ProviderOption {
	return func(p *Provider) {
		p.clientOpts = append(p.clientOpts, opts...)
	}
}

// NewProvider resolves the project from cfg or GOOGLE_CLOUD_PROJECT and the
// emulator from cfg or FIRESTORE_EMULATOR_HOST. No connection is made yet.
func NewProvider(cfg config.FirestoreConfig, opts ...ProviderOption) *Provider {
	p := &Provider{
		projectID:    firstSet(cfg.ProjectID, os.Getenv(envGoogleProjectID)),
		databaseID:   firstSet(cfg.DatabaseID, firestore.DefaultDatabaseID),
		emulator:     firstSet(cfg.EmulatorHost, os.Getenv(envEmulatorHost)),
		dialTimeout:  defaultDialTimeout,
		retryBackoff: defaultRetryBackoff,
		newClient:    firestore.NewClientWithDatabase,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.closed:
		return nil, ErrProviderClosed
	case p.client != nil:
		return p.client, nil
	case p.lastErr != nil && p.now().Sub(p.lastErrAt) < p.retryBackoff:
		return nil, p.lastErr
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()
	client, err := p.dial(dialCtx)
	if err != nil {
		p.lastErr, p.lastErrAt = err, p.now()
		return nil, err
	}
	p.client, p.lastErr = client, nil
	return client, nil
}

func (p *Provider) dial(ctx context.Context) (*firestore.Client, error) {
	if p.projectID == "" {
		return nil, errors.New("firestore: project id is required")
	}
	opts := append([]option.ClientOption(nil), p.clientOpts...)
	if p.emulator != "" {
		opts = append(opts,
			option.WithoutAuthentication(),
			option.WithEndpoint(p.emulator),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	client, err := p.newClient(ctx, p.projectID, p.databaseID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client for %s/%s: %w", p.projectID, p.databaseID, err)
	}
	return client, nil
}

func (p *Provider) Collection(ctx context.Context, name string) (*firestore.CollectionRef, error) {
	client, err := p.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(name), nil
}

// Ping reads a well-known document; a missing document still proves the round trip.
func (p *Provider) Ping(ctx context.Context) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.Collection(pingCollection).Doc(pingDocument).Get(ctx)
	if err != nil && !IsNotFoundStatus(err) {
		return WrapError("firestore.ping", err)
	}
	return nil
}

// Close releases the client. The provider cannot be reused afterwards.
func (p *Provider) Close(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	client := p.client
	already := p.closed
	p.client, p.closed = nil, true
	p.mu.Unlock()

	if already || client == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- client.Close() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc, opts ...TxOption) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	return RunTransaction(ctx, client, fn, opts...)
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
