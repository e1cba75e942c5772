package interceptor

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
)

// RunEngine serves the rewriting proxy on 127.0.0.1:port. It is meant
// to run in a dedicated child process ("aifree-bot proxy") so the
// parent can kill it without tearing down the UI.
func RunEngine(port int, certDir string) error {
	ca, err := loadOrCreateCA(certDir)
	if err != nil {
		return fmt.Errorf("load proxy CA: %w", err)
	}
	engine := &engine{ca: ca}
	server := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", port),
		Handler: engine,
	}
	log.Printf("proxy engine listening on %s", server.Addr)
	return server.ListenAndServe()
}

type engine struct {
	ca *certAuthority
}

func (e *engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		e.handleConnect(w, r)
		return
	}
	e.forward(w, r)
}

// forward proxies a plain-HTTP request, patching the checksum header
// for the target host.
func (e *engine) forward(w http.ResponseWriter, r *http.Request) {
	outReq := r.Clone(r.Context())
	outReq.RequestURI = ""
	rewrite(outReq)

	resp, err := http.DefaultTransport.RoundTrip(outReq)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func (e *engine) handleConnect(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Hostname()
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking unsupported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		return
	}
	clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))

	if !strings.Contains(host, TargetHost) {
		// Not ours: blind tunnel.
		e.tunnel(clientConn, r.Host)
		return
	}
	e.intercept(clientConn, host, r.Host)
}

func (e *engine) tunnel(clientConn net.Conn, addr string) {
	defer clientConn.Close()
	upstream, err := net.Dial("tcp", addr)
	if err != nil {
		return
	}
	defer upstream.Close()
	done := make(chan struct{}, 2)
	go func() { io.Copy(upstream, clientConn); done <- struct{}{} }()
	go func() { io.Copy(clientConn, upstream); done <- struct{}{} }()
	<-done
}

// intercept terminates TLS with a leaf signed by our CA, patches each
// request's checksum header and replays it upstream. Responses are
// passed through untouched, logged only.
func (e *engine) intercept(clientConn net.Conn, host, addr string) {
	defer clientConn.Close()
	leaf, err := e.ca.leafFor(host)
	if err != nil {
		log.Printf("leaf cert for %s: %v", host, err)
		return
	}
	tlsConn := tls.Server(clientConn, &tls.Config{Certificates: []tls.Certificate{leaf}})
	if err := tlsConn.Handshake(); err != nil {
		return
	}
	defer tlsConn.Close()

	reader := bufio.NewReader(tlsConn)
	transport := &http.Transport{TLSClientConfig: &tls.Config{ServerName: host}}
	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			return
		}
		req.URL.Scheme = "https"
		req.URL.Host = addr
		req.RequestURI = ""
		rewrite(req)
		log.Printf("-> %s %s", req.Method, req.URL)

		resp, err := transport.RoundTrip(req)
		if err != nil {
			return
		}
		log.Printf("<- %s (%d)", req.URL, resp.StatusCode)
		if err := resp.Write(tlsConn); err != nil {
			resp.Body.Close()
			return
		}
		resp.Body.Close()
	}
}

func rewrite(req *http.Request) {
	if !strings.Contains(req.Host, TargetHost) {
		return
	}
	if current := req.Header.Get(ChecksumHeader); current != "" {
		req.Header.Set(ChecksumHeader, RewriteChecksum(current))
	}
}
