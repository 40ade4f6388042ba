package broadcast

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

// Kind classifies a failed broadcast attempt.
type Kind int

const (
	// KindTransport: the endpoint could not be reached; the rotation
	// advances so the next attempt tries a different provider.
	KindTransport Kind = iota
	// KindBadResponse: the provider answered but the mAPI envelope or its
	// payload did not parse.
	KindBadResponse
	// KindRejected: the provider parsed the transaction and refused it.
	KindRejected
)

// Error is a failed broadcast. The invoice stays in draft whenever one of
// these is returned; nothing was persisted.
type Error struct {
	Kind        Kind
	Endpoint    string
	Description string
	Err         error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTransport:
		return fmt.Sprintf("broadcast to %s failed: %v", e.Endpoint, e.Err)
	case KindBadResponse:
		return fmt.Sprintf("error parsing response from %s: %v", e.Endpoint, e.Err)
	default:
		return fmt.Sprintf("%s rejected transaction: %s", e.Endpoint, e.Description)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Endpoint is one configured mAPI transaction-broadcast service.
type Endpoint struct {
	Name         string            `json:"name" mapstructure:"name"`
	URL          string            `json:"url" mapstructure:"url"`
	ExtraHeaders map[string]string `json:"extra_headers" mapstructure:"extra_headers"`
}

// Result is a provider response accepted as settlement success: either an
// explicit success result or an idempotent "already known" acceptance.
type Result struct {
	Endpoint string
	TxID     string
	Message  string
}

// mAPI envelope: the payload field is itself a JSON document in a string.
type envelope struct {
	Payload string `json:"payload"`
}

type payload struct {
	ReturnResult      string `json:"returnResult"`
	ResultDescription string `json:"resultDescription"`
	TxID              string `json:"txid"`
}

// alreadyKnown are provider phrasings for "this transaction is already in my
// mempool", all treated as acceptance.
var alreadyKnown = map[string]bool{
	"Transaction already in the mempool": true,
	"Transaction already known":          true,
	"257 txn-already-known":              true,
}

// Client submits raw transactions to a rotation of broadcast endpoints. One
// call tries exactly one endpoint; a transport failure advances the rotation
// for the next caller instead of retrying in-call.
type Client struct {
	endpoints []Endpoint
	http      *http.Client

	mu   sync.Mutex
	next int
}

func NewClient(endpoints []Endpoint) *Client {
	return &Client{
		endpoints: endpoints,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) current() Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoints[c.next]
}

func (c *Client) advance() {
	c.mu.Lock()
	c.next = (c.next + 1) % len(c.endpoints)
	c.mu.Unlock()
}

// Broadcast submits rawTxHex to the current endpoint and classifies the
// provider's answer. Returns *Error on every failure path.
func (c *Client) Broadcast(rawTxHex string) (*Result, error) {
	if len(c.endpoints) == 0 {
		return nil, &Error{Kind: KindTransport, Endpoint: "none", Err: fmt.Errorf("no broadcast endpoints configured")}
	}

	endpoint := c.current()

	body, err := json.Marshal(map[string]string{"rawtx": rawTxHex})
	if err != nil {
		return nil, &Error{Kind: KindTransport, Endpoint: endpoint.Name, Err: err}
	}

	req, err := http.NewRequest(http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Endpoint: endpoint.Name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range endpoint.ExtraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		log.Printf("broadcast to %s failed: %v", endpoint.Name, err)
		c.advance()
		return nil, &Error{Kind: KindTransport, Endpoint: endpoint.Name, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindBadResponse, Endpoint: endpoint.Name, Err: err}
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, &Error{Kind: KindBadResponse, Endpoint: endpoint.Name, Err: err}
	}
	var pl payload
	if err := json.Unmarshal([]byte(env.Payload), &pl); err != nil {
		return nil, &Error{Kind: KindBadResponse, Endpoint: endpoint.Name, Err: err}
	}

	if pl.ReturnResult == "success" || alreadyKnown[pl.ResultDescription] {
		return &Result{Endpoint: endpoint.Name, TxID: pl.TxID, Message: pl.ResultDescription}, nil
	}

	log.Printf("broadcast rejected by %s: %s", endpoint.Name, pl.ResultDescription)
	return nil, &Error{Kind: KindRejected, Endpoint: endpoint.Name, Description: pl.ResultDescription}
}
