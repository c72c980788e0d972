// Package switchclient implements the signed request/response protocol
// spoken by the external billing switch. Two independent instances run
// in production, one per traffic direction, each with its own key pair.
package switchclient

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/didstack/backoffice/internal/config"
	"go.uber.org/zap"
)

// PageSize is the fixed page size the switch serves on read.
const PageSize = 25

// Filter is one predicate applied to a read. Filters are plain values
// passed explicitly into each call; the client keeps no filter state
// between requests.
type Filter struct {
	Type       string `json:"type"`
	Field      string `json:"field"`
	Value      string `json:"value"`
	Comparator string `json:"comparator"`
}

// Eq builds the common string-equality filter.
func Eq(field, value string) Filter {
	return Filter{Type: "string", Field: field, Value: value, Comparator: "="}
}

// Response is the decoded switch reply. Reads populate Rows and Count;
// writes populate ID on success and Errors on validation failure.
type Response struct {
	Success bool             `json:"success"`
	Rows    []map[string]any `json:"rows"`
	Count   int              `json:"count"`
	ID      json.Number      `json:"id"`
	Errors  json.RawMessage  `json:"errors"`
}

// Client performs signed calls against one switch instance.
type Client struct {
	name       string
	baseURL    string
	key        string
	secret     string
	httpClient *http.Client
	log        *zap.Logger

	nonceSeq atomic.Uint64
}

func New(name string, cfg config.SwitchConfig, log *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		name:       name,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		key:        cfg.Key,
		secret:     cfg.Secret,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.Named("switchclient").With(zap.String("switch", name)),
	}
}

// Name returns the instance label (inbound or outbound).
func (c *Client) Name() string { return c.name }

// Request performs one signed call. The body is the url-encoded form of
// params plus module, action and a per-call nonce; the signature is the
// hex HMAC-SHA512 of that exact body under the instance secret.
func (c *Client) Request(ctx context.Context, module, action string, params url.Values) (*Response, error) {
	form := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			form.Add(k, v)
		}
	}
	form.Set("module", module)
	form.Set("action", action)
	form.Set("nonce", c.nonce())

	body := form.Encode()
	mac := hmac.New(sha512.New, []byte(c.secret))
	_, _ = mac.Write([]byte(body))
	sign := hex.EncodeToString(mac.Sum(nil))

	endpoint := c.baseURL + "/index.php/" + module + "/" + action
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return nil, c.transportErr(module, action, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("key", c.key)
	req.Header.Set("sign", sign)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportErr(module, action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, c.transportErr(module, action, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			Switch: c.name,
			Module: module,
			Action: action,
			Kind:   KindTransport,
			Detail: fmt.Sprintf("http status %d", resp.StatusCode),
		}
	}

	var decoded Response
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, &Error{
			Switch: c.name,
			Module: module,
			Action: action,
			Kind:   KindTransport,
			Detail: "malformed payload",
			Err:    err,
		}
	}
	if !decoded.Success {
		return nil, &Error{
			Switch: c.name,
			Module: module,
			Action: action,
			Kind:   KindRemote,
			Detail: string(decoded.Errors),
		}
	}
	return &decoded, nil
}

// Read fetches one page of module rows with the given filters applied.
func (c *Client) Read(ctx context.Context, module string, page int, filters []Filter) (*Response, error) {
	if page < 1 {
		page = 1
	}
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("start", strconv.Itoa((page-1)*PageSize))
	params.Set("limit", strconv.Itoa(PageSize))
	if len(filters) > 0 {
		encoded, err := json.Marshal(filters)
		if err != nil {
			return nil, c.transportErr(module, "read", err)
		}
		params.Set("filter", string(encoded))
	}
	return c.Request(ctx, module, "read", params)
}

// Create inserts a new module row on the switch.
func (c *Client) Create(ctx context.Context, module string, data url.Values) (*Response, error) {
	params := cloneValues(data)
	params.Set("id", "0")
	return c.Request(ctx, module, "save", params)
}

// Update modifies an existing module row.
func (c *Client) Update(ctx context.Context, module string, id int64, data url.Values) (*Response, error) {
	params := cloneValues(data)
	params.Set("id", strconv.FormatInt(id, 10))
	return c.Request(ctx, module, "save", params)
}

// Destroy removes a module row.
func (c *Client) Destroy(ctx context.Context, module string, id int64) (*Response, error) {
	params := url.Values{}
	params.Set("id", strconv.FormatInt(id, 10))
	return c.Request(ctx, module, "destroy", params)
}

// GetID looks up the remote id of the first row matching field=value.
// The second return value is false when no row matched.
func (c *Client) GetID(ctx context.Context, module, field, value string) (int64, bool, error) {
	resp, err := c.Read(ctx, module, 1, []Filter{Eq(field, value)})
	if err != nil {
		return 0, false, err
	}
	if len(resp.Rows) == 0 {
		return 0, false, nil
	}
	id, ok := rowInt64(resp.Rows[0], "id")
	if !ok {
		return 0, false, &Error{
			Switch: c.name,
			Module: module,
			Action: "read",
			Kind:   KindRemote,
			Detail: "row missing id field",
		}
	}
	return id, true, nil
}

// nonce is unique per process per call: a monotonic counter combined
// with wall time and a random suffix survives restarts and bursts.
func (c *Client) nonce() string {
	seq := c.nonceSeq.Add(1)
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("%d%d%s", time.Now().UnixNano(), seq, hex.EncodeToString(buf[:]))
}

func (c *Client) transportErr(module, action string, err error) *Error {
	return &Error{
		Switch: c.name,
		Module: module,
		Action: action,
		Kind:   KindTransport,
		Err:    err,
	}
}

func cloneValues(in url.Values) url.Values {
	out := url.Values{}
	for k, vs := range in {
		for _, v := range vs {
			out.Add(k, v)
		}
	}
	return out
}

func rowInt64(row map[string]any, key string) (int64, bool) {
	switch v := row[key].(type) {
	case float64:
		return int64(v), true
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return parsed, true
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
