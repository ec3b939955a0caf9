package server

import (
	"context"
	"io"
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"
)

// chunkSize is the maximum number of bytes passed through the rate limiter
// in one step. Smaller values give smoother limiting; 32 KiB balances
// accuracy against syscall overhead.
const chunkSize = 32 * 1024

// Shaper enforces a server-wide transfer cap shared fairly across unique
// client IPs. Each IP receives an equal share of the total regardless of how
// many concurrent transfers it has open, so a download manager with several
// parallel connections cannot claim more than one share. When an IP's last
// transfer finishes its share is released and the remaining IPs rebalance.
type Shaper struct {
	mu       sync.Mutex
	limitBps float64            // total cap in bytes/sec (0 = unlimited)
	peers    map[string]*ipState
}

type ipState struct {
	limiter *rate.Limiter
	refs    int
}

// NewShaper creates a shaper with the given total cap in bytes per second.
// Pass 0 to disable shaping entirely.
func NewShaper(bytesPerSec float64) *Shaper {
	return &Shaper{
		limitBps: bytesPerSec,
		peers:    make(map[string]*ipState),
	}
}

// join registers a transfer for ip and returns its limiter.
func (sh *Shaper) join(ip string) *rate.Limiter {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, exists := sh.peers[ip]
	if !exists {
		st = &ipState{limiter: rate.NewLimiter(1, chunkSize)}
		sh.peers[ip] = st
	}
	st.refs++
	sh.rebalanceLocked()
	return st.limiter
}

// leave decrements ip's transfer count, dropping the entry at zero.
func (sh *Shaper) leave(ip string) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.peers[ip]
	if !ok {
		return
	}
	st.refs--
	if st.refs <= 0 {
		delete(sh.peers, ip)
	}
	sh.rebalanceLocked()
}

// rebalanceLocked recalculates the per-IP rate. Must be called with mu held.
func (sh *Shaper) rebalanceLocked() {
	n := len(sh.peers)
	if n == 0 || sh.limitBps == 0 {
		return
	}
	perIP := sh.limitBps / float64(n)
	for ip, st := range sh.peers {
		st.limiter.SetLimit(rate.Limit(perIP))
		st.limiter.SetBurst(chunkSize)
		log.Printf("rate rebalance  ip=%-15s peers=%-2d alloc=%s/s", ip, n, humanize.Bytes(uint64(perIP)))
	}
}

// Wrap applies transfer shaping to h. With no cap set, h is returned
// unchanged with zero overhead.
func (sh *Shaper) Wrap(h http.Handler) http.Handler {
	if sh.limitBps == 0 {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := remoteIP(r)
		limiter := sh.join(ip)
		defer sh.leave(ip)

		if r.Body != nil {
			r.Body = &shapedReader{body: r.Body, ctx: r.Context(), limiter: limiter}
		}
		h.ServeHTTP(&shapedWriter{
			ResponseWriter: w,
			ctx:            r.Context(),
			limiter:        limiter,
		}, r)
	})
}

// shapedWriter throttles response writes through a token bucket.
type shapedWriter struct {
	http.ResponseWriter
	ctx     context.Context
	limiter *rate.Limiter
}

func (sw *shapedWriter) Write(p []byte) (int, error) {
	var done int
	for done < len(p) {
		if err := sw.ctx.Err(); err != nil {
			return done, err
		}
		end := done + chunkSize
		if end > len(p) {
			end = len(p)
		}
		chunk := p[done:end]
		if err := sw.limiter.WaitN(sw.ctx, len(chunk)); err != nil {
			return done, err
		}
		n, err := sw.ResponseWriter.Write(chunk)
		done += n
		if err != nil {
			return done, err
		}
	}
	return done, nil
}

// ReadFrom keeps io.Copy on the throttled Write path: wrapping sw in a bare
// io.Writer hides this very method, so the copy below cannot recurse into
// it or reach the unshaped fast path on the underlying ResponseWriter.
func (sw *shapedWriter) ReadFrom(src io.Reader) (int64, error) {
	return io.Copy(struct{ io.Writer }{sw}, src)
}

// Unwrap lets http.ResponseController reach the underlying ResponseWriter.
func (sw *shapedWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// shapedReader throttles request bodies so uploads honor the cap too.
type shapedReader struct {
	body    io.ReadCloser
	ctx     context.Context
	limiter *rate.Limiter
}

func (sr *shapedReader) Read(p []byte) (int, error) {
	if len(p) > chunkSize {
		p = p[:chunkSize]
	}
	n, err := sr.body.Read(p)
	if n > 0 {
		if werr := sr.limiter.WaitN(sr.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

func (sr *shapedReader) Close() error { return sr.body.Close() }

// remoteIP returns the request's client address without the port.
func remoteIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
