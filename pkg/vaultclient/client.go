package vaultclient

import (
	"net"
	"sync"
	"time"

	"github.com/blockvault/blockvault/internal/index"
	"github.com/blockvault/blockvault/pkg/verrors"
)

// Key is the 32-byte content-addressed identifier every block is stored under.
type Key = index.Key

// ErrNotFound is the client-side mapping of the read channel's 4-zero-byte
// "not found" reply (spec.md §7).
var ErrNotFound = verrors.NewIndexError(nil, verrors.ErrorCodeIndexKeyNotFound, "key not found")

// Config describes how to reach a blockvault server and how the client's
// local existence cache should behave.
type Config struct {
	// QueryAddr, ReadAddr, WriteAddr are "host:port" targets for the three
	// channels.
	QueryAddr string
	ReadAddr  string
	WriteAddr string

	// DialTimeout bounds each of the three connection attempts.
	//
	// Default: 5s
	DialTimeout time.Duration

	// MaxBatchKeys caps how many keys a single Many call will place in one
	// wire request; larger batches are chunked. Must match (or be no
	// larger than) the server's own configured limit.
	//
	// Default: 64
	MaxBatchKeys int

	// SendMissingOnly, when true, makes Many send the server only the
	// subset of keys the local cache doesn't already know about, OR-ing
	// the cached hits back in locally. When false (the default), Many
	// sends every key and ORs the reply with the cache — simpler, and
	// matches the original implementation's default (spec.md §4.6 notes
	// both behaviors are admissible).
	SendMissingOnly bool

	// CacheShards sizes the local existence cache's shard count.
	//
	// Default: 64
	CacheShards uint32
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.MaxBatchKeys <= 0 {
		cfg.MaxBatchKeys = 64
	}
	if cfg.CacheShards == 0 {
		cfg.CacheShards = 64
	}
	return cfg
}

// Client is a synchronous blockvault client: one connection per channel,
// a local existence cache, and a request-at-a-time protocol each
// connection serializes with its own mutex.
type Client struct {
	cfg Config

	queryConn net.Conn
	readConn  net.Conn
	writeConn net.Conn

	queryMu sync.Mutex
	readMu  sync.Mutex
	writeMu sync.Mutex

	cache *index.Set
}

// Dial connects all three channels and returns a ready Client.
func Dial(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	query, err := net.DialTimeout("tcp", cfg.QueryAddr, cfg.DialTimeout)
	if err != nil {
		return nil, verrors.NewProtocolError(err, verrors.ErrorCodeTransportFailure, "dial query channel")
	}
	read, err := net.DialTimeout("tcp", cfg.ReadAddr, cfg.DialTimeout)
	if err != nil {
		query.Close()
		return nil, verrors.NewProtocolError(err, verrors.ErrorCodeTransportFailure, "dial read channel")
	}
	write, err := net.DialTimeout("tcp", cfg.WriteAddr, cfg.DialTimeout)
	if err != nil {
		query.Close()
		read.Close()
		return nil, verrors.NewProtocolError(err, verrors.ErrorCodeTransportFailure, "dial write channel")
	}

	return &Client{
		cfg:       cfg,
		queryConn: query,
		readConn:  read,
		writeConn: write,
		cache:     index.NewSet(cfg.CacheShards),
	}, nil
}

// Close closes all three connections.
func (c *Client) Close() error {
	c.queryConn.Close()
	c.readConn.Close()
	c.writeConn.Close()
	return nil
}

// CacheLen reports how many keys the local existence cache currently holds.
func (c *Client) CacheLen() int { return c.cache.Len() }

// CacheSnapshot returns every key the local existence cache currently
// believes is present on the server, sorted ascending — a diagnostic
// export, not a consistency guarantee (the cache only ever grows).
func (c *Client) CacheSnapshot() []Key { return c.cache.Keys() }

// Is reports whether key is present, consulting the local cache first
// (spec.md §8 property 7: a cache hit never reaches the network).
func (c *Client) Is(key Key) (bool, error) {
	if c.cache.Has(key) {
		return true, nil
	}

	c.queryMu.Lock()
	defer c.queryMu.Unlock()

	if err := writeMessage(c.queryConn, keyBytes(key)); err != nil {
		return false, err
	}
	reply, err := readMessage(c.queryConn, 1)
	if err != nil {
		return false, err
	}
	found := len(reply) == 1 && reply[0] == 1
	if found {
		c.cache.Add(key)
	}
	return found, nil
}

// Validate asks the server to recompute key's digest against its stored
// payload and compare it to key itself.
func (c *Client) Validate(key Key) (bool, error) {
	c.queryMu.Lock()
	defer c.queryMu.Unlock()

	body := make([]byte, 1+KeySize)
	body[0] = validatePrefix
	copy(body[1:], key[:])

	if err := writeMessage(c.queryConn, body); err != nil {
		return false, err
	}
	reply, err := readMessage(c.queryConn, 1)
	if err != nil {
		return false, err
	}
	return len(reply) == 1 && reply[0] == 1, nil
}

// Many reports presence for a batch of keys, chunking at cfg.MaxBatchKeys
// and never touching the network for a batch the cache already answers
// in full.
func (c *Client) Many(keys []Key) ([]bool, error) {
	result := make([]bool, len(keys))

	for start := 0; start < len(keys); start += c.cfg.MaxBatchKeys {
		end := start + c.cfg.MaxBatchKeys
		if end > len(keys) {
			end = len(keys)
		}
		chunk, err := c.manyChunk(keys[start:end])
		if err != nil {
			return nil, err
		}
		copy(result[start:end], chunk)
	}
	return result, nil
}

func (c *Client) manyChunk(keys []Key) ([]bool, error) {
	result := make([]bool, len(keys))
	missing := make([]int, 0, len(keys))

	allCached := true
	for i, key := range keys {
		if c.cache.Has(key) {
			result[i] = true
		} else {
			allCached = false
			missing = append(missing, i)
		}
	}
	if allCached {
		return result, nil
	}

	toSend := keys
	indices := make([]int, len(keys))
	for i := range indices {
		indices[i] = i
	}
	if c.cfg.SendMissingOnly {
		toSend = make([]Key, len(missing))
		for j, idx := range missing {
			toSend[j] = keys[idx]
		}
		indices = missing
	}
	if len(toSend) < 2 {
		// The wire batch shape requires at least two keys; fall back to
		// single Is calls for a lone remaining key.
		for _, idx := range indices {
			found, err := c.Is(keys[idx])
			if err != nil {
				return nil, err
			}
			result[idx] = found
		}
		return result, nil
	}

	c.queryMu.Lock()
	body := make([]byte, 0, len(toSend)*KeySize)
	for _, key := range toSend {
		body = append(body, key[:]...)
	}
	if err := writeMessage(c.queryConn, body); err != nil {
		c.queryMu.Unlock()
		return nil, err
	}
	reply, err := readMessage(c.queryConn, 8)
	c.queryMu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(reply) != 8 {
		return nil, verrors.NewProtocolViolation("query", len(reply), "malformed batch reply")
	}
	var bitmap uint64
	for i := 7; i >= 0; i-- {
		bitmap = bitmap<<8 | uint64(reply[i])
	}

	for j, idx := range indices {
		if bitmap&(1<<uint(j)) != 0 {
			result[idx] = true
			c.cache.Add(toSend[j])
		}
	}
	return result, nil
}

// Read fetches key's payload, or ErrNotFound if the key is unknown.
func (c *Client) Read(key Key) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if _, err := c.readConn.Write(key[:]); err != nil {
		return nil, verrors.NewProtocolError(err, verrors.ErrorCodeTransportFailure, "write read request")
	}
	size, err := readUint32(c.readConn)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, ErrNotFound
	}
	return readExact(c.readConn, int(size))
}

// Write stores payload under key, using the write channel's buffered
// length-prefixed framing (key||payload in one message).
func (c *Client) Write(key Key, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	body := make([]byte, KeySize+len(payload))
	copy(body, key[:])
	copy(body[KeySize:], payload)

	if err := writeMessage(c.writeConn, body); err != nil {
		return err
	}
	if _, err := readUint32(c.writeConn); err != nil {
		return err
	}
	c.cache.Add(key)
	return nil
}
