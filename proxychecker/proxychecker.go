// Package proxychecker verifies a candidate list of "host:port" proxies in
// parallel against a caller-supplied predicate over the response body,
// grounded on proxy_check's fan-out-and-collect shape.
package proxychecker

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/botscript-go/botscript/httpconn"
)

// Timeout is the verification deadline for a single proxy probe (§5).
const Timeout = 30 * time.Second

// Predicate reports whether a response body indicates the proxy is usable.
type Predicate func(body string) bool

// Check verifies every candidate in parallel by issuing probeRequest
// through it, and returns the subset that both connected successfully and
// satisfied predicate, preserving candidates' relative input order. The
// returned set depends only on the input set and predicate (§8 property 9),
// never on scheduling order.
func Check(ctx context.Context, candidates []string, probeRequest []byte, predicate Predicate, logger *zap.Logger) []string {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("proxychecker")

	results := make([]bool, len(candidates))

	var wg sync.WaitGroup
	for i, candidate := range candidates {
		wg.Add(1)
		go func(i int, candidate string) {
			defer wg.Done()
			results[i] = probe(ctx, candidate, probeRequest, predicate, logger)
		}(i, candidate)
	}
	wg.Wait()

	good := make([]string, 0, len(candidates))
	for i, candidate := range candidates {
		if results[i] {
			good = append(good, candidate)
		}
	}
	return good
}

func probe(ctx context.Context, candidate string, probeRequest []byte, predicate Predicate, logger *zap.Logger) bool {
	host, port := splitHostPort(candidate)
	if host == "" {
		logger.Debug("malformed proxy candidate", zap.String("proxy", candidate))
		return false
	}

	conn := httpconn.New(host, port, Timeout, logger)
	defer conn.Close()

	checkCtx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	resp, err := conn.Do(checkCtx, probeRequest)
	if err != nil {
		logger.Debug("proxy probe failed", zap.String("proxy", candidate), zap.Error(err))
		return false
	}

	ok := predicate == nil || predicate(string(resp.Body))
	return ok
}

func splitHostPort(candidate string) (host, port string) {
	idx := strings.LastIndexByte(candidate, ':')
	if idx < 0 {
		return "", ""
	}
	return candidate[:idx], candidate[idx+1:]
}
