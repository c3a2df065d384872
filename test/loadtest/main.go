// Package main implements a load generator for the nota indexer. It
// appends synthetic ledger events to the Redis Stream the indexer tails,
// driving realistic instrument lifecycles (issue, transfer chains, cash
// or void) and trust handshakes, then reports the append rate and the
// indexer's cursor lag.
//
// Usage:
//
//	go run ./test/loadtest \
//	  -redis-url "redis://localhost:6379" \
//	  -stream nota:events \
//	  -accounts 50 \
//	  -rate 200 \
//	  -duration 30s
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

type generator struct {
	rng      *rand.Rand
	accounts []string
	erc20s   []string

	nextNotaID int64
	liveNotas  map[string]string // nota id -> current owner
	shaken     map[[2]string]bool

	blockTime int64
}

func newGenerator(seed int64, numAccounts int) *generator {
	rng := rand.New(rand.NewSource(seed))
	g := &generator{
		rng:       rng,
		liveNotas: make(map[string]string),
		shaken:    make(map[[2]string]bool),
		blockTime: time.Now().Unix(),
	}
	for i := 0; i < numAccounts; i++ {
		g.accounts = append(g.accounts, randomAddress(rng))
	}
	for i := 0; i < 4; i++ {
		g.erc20s = append(g.erc20s, randomAddress(rng))
	}
	return g
}

func randomAddress(rng *rand.Rand) string {
	const hexdigits = "0123456789abcdef"
	b := make([]byte, 42)
	b[0], b[1] = '0', 'x'
	for i := 2; i < 42; i++ {
		b[i] = hexdigits[rng.Intn(16)]
	}
	return string(b)
}

func (g *generator) pick() string {
	return g.accounts[g.rng.Intn(len(g.accounts))]
}

// next produces the field map for one event. The mix skews toward Write
// and Transfer, with occasional terminal events and shakes.
func (g *generator) next() map[string]any {
	g.blockTime++

	roll := g.rng.Intn(100)
	switch {
	case roll < 40 || len(g.liveNotas) == 0:
		return g.write()
	case roll < 70:
		return g.transfer()
	case roll < 80:
		return g.terminal("Cash")
	case roll < 90:
		return g.terminal("Void")
	case roll < 95:
		return g.shakeUser()
	default:
		return g.shakeAuditor()
	}
}

func (g *generator) write() map[string]any {
	g.nextNotaID++
	id := strconv.FormatInt(g.nextNotaID, 10)
	recipient := g.pick()
	g.liveNotas[id] = recipient

	return map[string]any{
		"kind":           "Write",
		"tokenId":        id,
		"amount":         strconv.Itoa(g.rng.Intn(1_000_000) + 1),
		"expiry":         strconv.FormatInt(g.blockTime+86400, 10),
		"token":          g.erc20s[g.rng.Intn(len(g.erc20s))],
		"drawer":         g.pick(),
		"recipient":      recipient,
		"auditor":        g.pick(),
		"blockTimestamp": strconv.FormatInt(g.blockTime, 10),
		"blockHash":      randomAddress(g.rng),
	}
}

func (g *generator) pickLiveNota() (string, string, bool) {
	for id, owner := range g.liveNotas {
		return id, owner, true
	}
	return "", "", false
}

func (g *generator) transfer() map[string]any {
	id, owner, ok := g.pickLiveNota()
	if !ok {
		return g.write()
	}
	from := owner
	if g.rng.Intn(10) == 0 {
		// Mint-side transfer, as emitted alongside issuance on chain.
		from = zeroAddress
	}
	to := g.pick()
	if from != zeroAddress {
		g.liveNotas[id] = to
	}
	return map[string]any{
		"kind":    "Transfer",
		"tokenId": id,
		"from":    from,
		"to":      to,
	}
}

func (g *generator) terminal(kind string) map[string]any {
	id, owner, ok := g.pickLiveNota()
	if !ok {
		return g.write()
	}
	delete(g.liveNotas, id)
	return map[string]any{
		"kind":    kind,
		"tokenId": id,
		"bearer":  owner,
	}
}

func (g *generator) shakeUser() map[string]any {
	return map[string]any{
		"kind":           "ShakeUser",
		"user":           g.pick(),
		"auditor":        g.pick(),
		"blockTimestamp": strconv.FormatInt(g.blockTime, 10),
	}
}

func (g *generator) shakeAuditor() map[string]any {
	accepted := "true"
	if g.rng.Intn(5) == 0 {
		accepted = "false"
	}
	return map[string]any{
		"kind":           "ShakeAuditor",
		"user":           g.pick(),
		"auditor":        g.pick(),
		"accepted":       accepted,
		"blockTimestamp": strconv.FormatInt(g.blockTime, 10),
	}
}

func main() {
	var (
		redisURL = flag.String("redis-url", "redis://localhost:6379", "Redis connection string")
		stream   = flag.String("stream", "nota:events", "Stream key to append to")
		accounts = flag.Int("accounts", 50, "Size of the synthetic address pool")
		rate     = flag.Int("rate", 200, "Target events per second")
		duration = flag.Duration("duration", 30*time.Second, "How long to generate")
		seed     = flag.Int64("seed", time.Now().UnixNano(), "PRNG seed")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	opts, err := redis.ParseURL(*redisURL)
	if err != nil {
		logger.Error("bad redis url", "error", err)
		os.Exit(1)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Error("redis unreachable", "error", err)
		os.Exit(1)
	}

	logger.Info("load generator starting",
		"stream", *stream,
		"accounts", *accounts,
		"rate", *rate,
		"duration", *duration,
		"seed", *seed,
	)

	gen := newGenerator(*seed, *accounts)
	ticker := time.NewTicker(time.Second / time.Duration(*rate))
	defer ticker.Stop()
	deadline := time.After(*duration)

	var sent int64
	start := time.Now()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-deadline:
			break loop
		case <-ticker.C:
			if err := client.XAdd(ctx, &redis.XAddArgs{
				Stream: *stream,
				Values: gen.next(),
			}).Err(); err != nil {
				logger.Error("xadd failed", "error", err)
				break loop
			}
			sent++
		}
	}

	elapsed := time.Since(start)
	streamLen, _ := client.XLen(context.Background(), *stream).Result()
	fmt.Printf("\nappended %d events in %s (%.1f events/sec), stream length now %d\n",
		sent, elapsed.Round(time.Millisecond), float64(sent)/elapsed.Seconds(), streamLen)
}
