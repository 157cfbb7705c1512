package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	ledgertypes "github.com/frahmantamala/paylink/internal/core/datamodel/ledger"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36"

var loggedOutPattern = regexp.MustCompile(`(?i)login\s*/\s*register`)

type Config struct {
	HistoryURL     string
	AuthCheckURL   string
	CookiesFile    string
	RequestTimeout time.Duration
}

// Client talks to the transaction-history provider with a browser-exported
// cookie session. The cookies file is watched and reloaded on change, so a
// refreshed export takes effect without a restart.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.RWMutex
	httpClient *http.Client

	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	c := &Client{
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}

	if err := c.reloadCookies(); err != nil {
		return nil, err
	}
	c.startCookieWatcher()

	return c, nil
}

// Close stops the cookie file watcher.
func (c *Client) Close() {
	close(c.done)
	if c.watcher != nil {
		c.watcher.Close()
	}
}

func (c *Client) reloadCookies() error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("create cookie jar: %w", err)
	}

	loaded, err := loadCookiesFromFile(jar, c.cfg.CookiesFile)
	if err != nil {
		return err
	}
	if loaded == 0 {
		c.logger.Warn("no cookies loaded, ledger provider will report unauthenticated",
			"cookies_file", c.cfg.CookiesFile)
	} else {
		c.logger.Info("ledger cookies loaded",
			"cookies_file", c.cfg.CookiesFile,
			"count", loaded)
	}

	c.mu.Lock()
	c.httpClient = &http.Client{
		Jar:     jar,
		Timeout: c.cfg.RequestTimeout,
	}
	c.mu.Unlock()
	return nil
}

// startCookieWatcher watches the directory holding the cookies file; editors
// and exporters replace the file rather than writing in place, so watching
// the file itself would lose the watch on the first export.
func (c *Client) startCookieWatcher() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.logger.Warn("cookie watcher unavailable, file changes need a restart", "error", err)
		return
	}

	dir := filepath.Dir(c.cfg.CookiesFile)
	if err := watcher.Add(dir); err != nil {
		c.logger.Warn("cannot watch cookies directory", "dir", dir, "error", err)
		watcher.Close()
		return
	}
	c.watcher = watcher

	base := filepath.Base(c.cfg.CookiesFile)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				c.logger.Info("cookies file changed, reloading", "event", event.Op.String())
				if err := c.reloadCookies(); err != nil {
					c.logger.Error("cookie reload failed", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("cookie watcher error", "error", err)
			case <-c.done:
				return
			}
		}
	}()
}

func (c *Client) client() *http.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.httpClient
}

// ListRecentTransactions fetches the provider's transaction history and maps
// each entry into a Transaction record. Entries the provider serves in an
// unexpected shape are skipped, not fatal.
func (c *Client) ListRecentTransactions(ctx context.Context) ([]ledgertypes.Transaction, error) {
	payload := map[string]interface{}{
		"userImsId":          "",
		"isAndroid":          false,
		"fromDate":           nil,
		"toDate":             nil,
		"paymentStatus":      "",
		"paymentDirection":   "",
		"paymentAccountType": "",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal history request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.HistoryURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create history request: %w", err)
	}
	c.setBrowserHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("history request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history endpoint returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Data struct {
			GlobalTransactions []json.RawMessage `json:"globalTransactions"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode history response: %w", err)
	}

	transactions := make([]ledgertypes.Transaction, 0, len(parsed.Data.GlobalTransactions))
	for _, raw := range parsed.Data.GlobalTransactions {
		txn, err := mapTransaction(raw)
		if err != nil {
			c.logger.Warn("skipping malformed transaction entry", "error", err)
			continue
		}
		transactions = append(transactions, txn)
	}

	c.logger.Debug("fetched ledger transactions", "count", len(transactions))
	return transactions, nil
}

// IsAuthenticated probes the provider's history page without following
// redirects. A redirect to the services page or a login/register body means
// the exported browser session has lapsed. Any transport error counts as
// unauthenticated; this is a capability check, not a health check.
func (c *Client) IsAuthenticated(ctx context.Context) bool {
	base := c.client()
	probe := &http.Client{
		Jar:     base.Jar,
		Timeout: base.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.AuthCheckURL, nil)
	if err != nil {
		return false
	}
	c.setBrowserHeaders(req)

	resp, err := probe.Do(req)
	if err != nil {
		c.logger.Warn("ledger auth probe failed", "error", err)
		return false
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound:
		if strings.Contains(resp.Header.Get("Location"), "/services") {
			c.logger.Debug("ledger session redirected to login")
		}
		return false
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return false
		}
		return !loggedOutPattern.Match(body)
	default:
		return false
	}
}

func (c *Client) setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if u, err := url.Parse(c.cfg.HistoryURL); err == nil {
		origin := u.Scheme + "://" + u.Host
		req.Header.Set("Origin", origin)
		req.Header.Set("Referer", origin+"/")
	}
}

func mapTransaction(raw json.RawMessage) (ledgertypes.Transaction, error) {
	var parsed struct {
		BillerInfo struct {
			BillerMetaData []struct {
				SectionDetails []struct {
					Name  string `json:"name"`
					Value string `json:"value"`
				} `json:"sectionDetails"`
			} `json:"billerMetaData"`
		} `json:"billerInfo"`
		TxnDetails struct {
			Amount    json.Number `json:"amount"`
			Comments  string      `json:"comments"`
			PayeeName string      `json:"payeeName"`
			TxnDate   string      `json:"txnDate"`
		} `json:"txnDetails"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return ledgertypes.Transaction{}, err
	}

	metadata := make(map[string]string)
	for _, section := range parsed.BillerInfo.BillerMetaData {
		for _, detail := range section.SectionDetails {
			if detail.Name != "" {
				metadata[detail.Name] = detail.Value
			}
		}
	}

	details := ledgertypes.TxnDetails{
		AmountPaise:      parseRupeesToPaise(parsed.TxnDetails.Amount.String()),
		Comment:          parsed.TxnDetails.Comments,
		CounterpartyName: parsed.TxnDetails.PayeeName,
		Timestamp:        parsed.TxnDetails.TxnDate,
		ReferenceCode:    metadata[ledgertypes.MetadataKeyReferenceCode],
	}
	if details.Comment == "" {
		details.Comment = metadata["Comments"]
	}

	return ledgertypes.Transaction{
		Metadata: metadata,
		Details:  details,
		Raw:      raw,
	}, nil
}

// parseRupeesToPaise converts a display amount ("250", "250.5", "₹1,250.00")
// into paise. Unparseable input yields 0, which can never equal a valid
// session amount.
func parseRupeesToPaise(s string) int64 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "₹")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0
	}

	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole := s
	fraction := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, fraction = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}

	var rupees int64
	for _, r := range whole {
		if r < '0' || r > '9' {
			return 0
		}
		rupees = rupees*10 + int64(r-'0')
	}

	var paise int64
	switch {
	case len(fraction) == 0:
	case len(fraction) == 1:
		if fraction[0] < '0' || fraction[0] > '9' {
			return 0
		}
		paise = int64(fraction[0]-'0') * 10
	default:
		for _, r := range fraction[:2] {
			if r < '0' || r > '9' {
				return 0
			}
			paise = paise*10 + int64(r-'0')
		}
	}

	total := rupees*100 + paise
	if negative {
		total = -total
	}
	return total
}
