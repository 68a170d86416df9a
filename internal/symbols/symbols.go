package symbols

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"KisBridge/internal/model"
)

const masterBaseURL = "https://new.real.download.dws.co.kr/common/master"

// marketExchanges lists the exchange codes whose master files make up one
// market's reference data.
var marketExchanges = map[string][]string{
	"US": {"NAS", "NYS", "AMS"},
	"HK": {"HKS"},
	"JP": {"TSE"},
	"CN": {"SHS", "SZS"},
	"VN": {"HSX", "HNX"},
}

// orderExchangeCodes maps a quote exchange code (EXCD) to the code the order
// endpoints expect (OVRS_EXCG_CD).
var orderExchangeCodes = map[string]string{
	"NAS": "NASD",
	"NYS": "NYSE",
	"AMS": "AMEX",
	"HKS": "SEHK",
	"TSE": "TKSE",
	"SHS": "SHAA",
	"SZS": "SZAA",
	"HSX": "VNSE",
	"HNX": "HASE",
}

// InvalidSymbolError reports a ticker missing from the reference map. It is
// returned before any quote or order request is sent.
type InvalidSymbolError struct {
	Market string
	Ticker string
}

func (e *InvalidSymbolError) Error() string {
	return fmt.Sprintf("symbol %q not found in %s reference data", e.Ticker, e.Market)
}

// OrderExchangeCode translates a quote exchange code into the order-endpoint
// variant. Unknown codes pass through unchanged.
func OrderExchangeCode(excd string) string {
	if v, ok := orderExchangeCodes[excd]; ok {
		return v
	}
	return excd
}

// Service resolves tickers against the downloadable master files. Markets are
// loaded lazily: first from the local cache if one is configured, then from
// the download host. The in-memory map is rebuilt wholesale on Reload.
type Service struct {
	mu       sync.Mutex
	byMarket map[string]map[string]model.Symbol
	store    *Store
	client   *http.Client
	baseURL  string
}

// NewService creates a resolver. store may be nil, in which case every cold
// start downloads the master files.
func NewService(store *Store) *Service {
	return &Service{
		byMarket: make(map[string]map[string]model.Symbol),
		store:    store,
		client:   &http.Client{Timeout: 60 * time.Second},
		baseURL:  masterBaseURL,
	}
}

// Resolve returns the exchange code and tradable ticker for market/ticker.
// Domestic tickers pass through untouched; the KRX master is not needed to
// route them. Overseas markets populate lazily on first use.
func (s *Service) Resolve(ctx context.Context, market, ticker string) (model.Symbol, error) {
	if market == "KR" {
		return model.Symbol{Ticker: ticker, ExchangeCode: "KRX", RealtimeTicker: ticker}, nil
	}
	if _, ok := marketExchanges[market]; !ok {
		return model.Symbol{}, fmt.Errorf("unknown market %q", market)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byMarket[market]; !ok {
		if err := s.load(ctx, market); err != nil {
			return model.Symbol{}, err
		}
	}
	sym, ok := s.byMarket[market][ticker]
	if !ok {
		return model.Symbol{}, &InvalidSymbolError{Market: market, Ticker: ticker}
	}
	return sym, nil
}

// Reload forces a fresh download of one market's master files, replacing the
// in-memory map and the cache.
func (s *Service) Reload(ctx context.Context, market string) error {
	if _, ok := marketExchanges[market]; !ok {
		return fmt.Errorf("unknown market %q", market)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.download(ctx, market)
}

// load fills the in-memory map for market, preferring the cache. Caller holds mu.
func (s *Service) load(ctx context.Context, market string) error {
	if s.store != nil {
		cached, err := s.store.Load(market)
		if err != nil {
			log.Printf("[WARN] symbol cache read for %s: %v", market, err)
		} else if len(cached) > 0 {
			s.byMarket[market] = cached
			log.Printf("[INFO] symbol map for %s loaded from cache (%d entries)", market, len(cached))
			return nil
		}
	}
	return s.download(ctx, market)
}

// download fetches every exchange master file for market. Caller holds mu.
func (s *Service) download(ctx context.Context, market string) error {
	m := make(map[string]model.Symbol)
	for _, excd := range marketExchanges[market] {
		rows, err := s.fetchMaster(ctx, excd)
		if err != nil {
			return fmt.Errorf("fetch %s master: %w", excd, err)
		}
		for _, sym := range rows {
			m[sym.Ticker] = sym
		}
	}
	s.byMarket[market] = m
	log.Printf("[INFO] symbol map for %s downloaded (%d entries)", market, len(m))

	if s.store != nil {
		if err := s.store.Save(market, m); err != nil {
			log.Printf("[WARN] symbol cache write for %s: %v", market, err)
		}
	}
	return nil
}

// fetchMaster downloads and parses one exchange's zipped master file.
func (s *Service) fetchMaster(ctx context.Context, excd string) ([]model.Symbol, error) {
	url := fmt.Sprintf("%s/%smst.cod.zip", s.baseURL, strings.ToLower(excd))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return parseMaster(raw, excd)
}

// parseMaster extracts the ticker rows from a zipped master file. Rows are
// tab-separated; only the exchange code, symbol, and realtime symbol columns
// are kept, all of which are plain ASCII.
func parseMaster(zipped []byte, excd string) ([]model.Symbol, error) {
	zr, err := zip.NewReader(bytes.NewReader(zipped), int64(len(zipped)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	member := strings.ToUpper(excd) + "MST.COD"
	f, err := zr.Open(member)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", member, err)
	}
	defer f.Close()

	var out []model.Symbol
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		cols := strings.Split(sc.Text(), "\t")
		if len(cols) < 6 {
			continue
		}
		out = append(out, model.Symbol{
			Ticker:         cols[4],
			ExchangeCode:   cols[2],
			RealtimeTicker: cols[5],
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", member, err)
	}
	return out, nil
}
