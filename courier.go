package courier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/couriermsg/courier/internal/bus"
	"github.com/couriermsg/courier/internal/keys"
	"github.com/couriermsg/courier/internal/status"
	"github.com/couriermsg/courier/internal/store"
	intsync "github.com/couriermsg/courier/internal/sync"
	"github.com/couriermsg/courier/internal/transport"
)

// Options configures a Client. Either DB or DBPath must be set, and
// either Transport or BaseURL.
type Options struct {
	// DBPath locates the sqlite database, created and migrated when
	// missing. Ignored when DB is set.
	DBPath string
	// DB is an already open store handle. Close leaves it open.
	DB *store.DB
	// BaseURL points the built-in HTTP transport at the message
	// service. Ignored when Transport is set.
	BaseURL string
	// Timeout bounds each HTTP request; zero means the transport
	// default.
	Timeout time.Duration
	// Transport overrides the built-in HTTP transport.
	Transport transport.Transport
	// UserID, when set, gets an identity key pair ensured on startup.
	UserID string
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Client composes the queue store, key manager, sync engine and status
// monitor behind one handle. The engine and monitor loops run from New
// until Close.
type Client struct {
	db     *store.DB
	ownsDB bool

	bus     *bus.Bus
	keys    *keys.Manager
	monitor *status.Monitor
	engine  *intsync.Engine
	logger  *zap.Logger
}

// New opens the store, wires the subsystems together and starts the
// background loops. The client starts offline; flip connectivity with
// Sync().SetOnline once the service is reachable.
func New(opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	remote := opts.Transport
	if remote == nil {
		if opts.BaseURL == "" {
			return nil, errors.New("either Transport or BaseURL must be set")
		}
		remote = transport.NewHTTP(opts.BaseURL, opts.Timeout)
	}

	db := opts.DB
	ownsDB := false
	if db == nil {
		if opts.DBPath == "" {
			return nil, errors.New("either DB or DBPath must be set")
		}
		opened, err := store.Open(opts.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		if _, err := opened.Migrate(); err != nil {
			_ = opened.Close()
			return nil, fmt.Errorf("migrate store: %w", err)
		}
		db = opened
		ownsDB = true
	}

	b := bus.New()
	km := keys.NewManager(db, logger)
	monitor := status.NewMonitor(db, b, logger)
	engine := intsync.NewEngine(db, remote, monitor, b, logger)

	if opts.UserID != "" {
		if _, err := km.EnsureKeyPair(opts.UserID); err != nil {
			if ownsDB {
				_ = db.Close()
			}
			return nil, fmt.Errorf("ensure identity keys: %w", err)
		}
	}

	monitor.Start(context.Background())
	engine.Start(context.Background())

	return &Client{
		db:      db,
		ownsDB:  ownsDB,
		bus:     b,
		keys:    km,
		monitor: monitor,
		engine:  engine,
		logger:  logger,
	}, nil
}

// Close stops the background loops and closes the store if the client
// opened it.
func (c *Client) Close() error {
	c.engine.Stop()
	c.monitor.Stop()
	if c.ownsDB {
		return c.db.Close()
	}
	return nil
}

// Keys returns the key manager.
func (c *Client) Keys() *keys.Manager { return c.keys }

// Sync returns the sync engine.
func (c *Client) Sync() *intsync.Engine { return c.engine }

// Status returns the sync status monitor.
func (c *Client) Status() *status.Monitor { return c.monitor }

// Bus returns the event bus carrying sync and status events.
func (c *Client) Bus() *bus.Bus { return c.bus }
