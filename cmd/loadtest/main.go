package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	idempotencyHeader = "Idempotency-Key"
	scenarioMethod    = "scenario"
	codeTransport     = "transport_error"
)

type loadMode string

const (
	modeCash       loadMode = "cash"
	modeCard       loadMode = "card"
	modeCardResume loadMode = "card-resume"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	itemName    string
	itemPrice   decimal.Decimal
	tip         decimal.Decimal
	delivery    bool
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{methods: make(map[string]*methodStats)}
}

// record учитывает вызов; code — HTTP статус или codeTransport.
func (c *collector) record(method string, latency time.Duration, code string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, found := c.methods[method]
	if !found {
		stats = &methodStats{codes: make(map[string]int64)}
		c.methods[method] = stats
	}

	stats.calls++
	if ok {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenario := c.methods[scenarioMethod]; scenario != nil {
		result.TotalScenarios = scenario.calls
		result.SuccessScenarios = scenario.success
		result.FailedScenarios = scenario.failed
		result.ErrorRate = ratio(scenario.failed, scenario.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenario.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func parseConfig(fs *flag.FlagSet, args []string) (config, error) {
	var (
		cfg       config
		modeValue string
		priceRaw  string
		tipRaw    string
	)

	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "storefront base URL")
	fs.IntVar(&cfg.total, "total", 200, "total scenarios in count mode; with -duration only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 5m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 20, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeCash), "load mode: cash | card | card-resume")
	fs.StringVar(&cfg.itemName, "item", "Load Test Ramen", "menu item name")
	fs.StringVar(&priceRaw, "price", "$8.50", "menu item price")
	fs.StringVar(&tipRaw, "tip", "1.00", "tip per order")
	fs.BoolVar(&cfg.delivery, "delivery", false, "order delivery instead of pickup")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	cfg.itemPrice, err = decimal.NewFromString(strings.TrimPrefix(strings.TrimSpace(priceRaw), "$"))
	if err != nil {
		return cfg, fmt.Errorf("parse price: %w", err)
	}
	cfg.tip, err = decimal.NewFromString(strings.TrimSpace(tipRaw))
	if err != nil {
		return cfg, fmt.Errorf("parse tip: %w", err)
	}
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	switch {
	case cfg.baseURL == "":
		return cfg, errors.New("url is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case !cfg.itemPrice.IsPositive():
		return cfg, errors.New("price must be > 0")
	case cfg.tip.IsNegative():
		return cfg, errors.New("tip must be >= 0")
	case strings.TrimSpace(cfg.itemName) == "":
		return cfg, errors.New("item is required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modeCash, modeCard, modeCardResume:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result := runLoad(context.Background(), cfg, &http.Client{Timeout: cfg.timeout})

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func runLoad(ctx context.Context, cfg config, httpClient *http.Client) report {
	startedAt := time.Now()
	runID := uuid.NewString()
	col := newCollector()
	cli := &client{baseURL: cfg.baseURL, http: httpClient, timeout: cfg.timeout, col: col}

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for w := 0; w < cfg.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				_ = runScenario(ctx, cli, cfg, id, runID)
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	return col.buildReport(startedAt, time.Since(startedAt))
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}
		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

type orderItem struct {
	Name     string `json:"name"`
	Price    string `json:"price"`
	Quantity int    `json:"quantity"`
}

type customer struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type placeOrderBody struct {
	Fulfillment     string          `json:"fulfillment"`
	PaymentMethod   string          `json:"paymentMethod"`
	Tip             decimal.Decimal `json:"tip"`
	DeliveryFee     decimal.Decimal `json:"deliveryFee"`
	Total           decimal.Decimal `json:"total"`
	Items           []orderItem     `json:"items"`
	Customer        customer        `json:"customer"`
	OrderID         string          `json:"orderId,omitempty"`
	PaymentIntentID string          `json:"paymentIntentId,omitempty"`
}

type checkoutBody struct {
	Items          []orderItem     `json:"items"`
	DeliveryOption string          `json:"deliveryOption"`
	Tip            decimal.Decimal `json:"tip"`
}

type orderResponse struct {
	Order struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"order"`
	ClientSecret string `json:"clientSecret"`
}

type checkoutResponse struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
}

func (cfg config) orderBody(index int, runID string, method string) placeOrderBody {
	fulfillment := "pickup"
	fee := decimal.Zero
	if cfg.delivery {
		fulfillment = "delivery"
		fee = decimal.NewFromInt(3)
	}
	return placeOrderBody{
		Fulfillment:   fulfillment,
		PaymentMethod: method,
		Tip:           cfg.tip,
		DeliveryFee:   fee,
		Total:         cfg.itemPrice.Add(fee).Add(cfg.tip),
		Items:         []orderItem{{Name: cfg.itemName, Price: "$" + cfg.itemPrice.StringFixed(2), Quantity: 1}},
		Customer: customer{
			Name:    fmt.Sprintf("Load %d", index),
			Email:   fmt.Sprintf("load-%s-%d@example.com", runID[:8], index),
			Phone:   "555-0100",
			Address: "Dorm " + strconv.Itoa(index%40+1),
		},
	}
}

func runScenario(ctx context.Context, cli *client, cfg config, index int, runID string) (err error) {
	start := time.Now()
	defer func() {
		code := "ok"
		if err != nil {
			code = "failed"
		}
		cli.col.record(scenarioMethod, time.Since(start), code, err == nil)
	}()

	switch cfg.mode {
	case modeCash:
		order, err := cli.placeOrder(ctx, cfg.orderBody(index, runID, "cash"), fmt.Sprintf("lt-%s-%d", runID, index))
		if err != nil {
			return err
		}
		if order.Order.Status != "cash_pending" {
			return fmt.Errorf("cash order %s has status %q", order.Order.ID, order.Order.Status)
		}
		return nil

	case modeCard:
		body := cfg.orderBody(index, runID, "card")
		delivery := body.Fulfillment
		intent, err := cli.checkout(ctx, checkoutBody{Items: body.Items, DeliveryOption: delivery, Tip: cfg.tip})
		if err != nil {
			return err
		}
		body.PaymentIntentID = intent.PaymentIntentID
		order, err := cli.placeOrder(ctx, body, fmt.Sprintf("lt-%s-%d", runID, index))
		if err != nil {
			return err
		}
		if order.Order.Status != "pending" {
			return fmt.Errorf("card order %s has status %q", order.Order.ID, order.Order.Status)
		}
		return nil

	case modeCardResume:
		body := cfg.orderBody(index, runID, "card")
		first, err := cli.placeOrder(ctx, body, "")
		if err != nil {
			return err
		}
		body.OrderID = first.Order.ID
		second, err := cli.placeOrder(ctx, body, "")
		if err != nil {
			return err
		}
		if second.Order.ID != first.Order.ID {
			return fmt.Errorf("resume created a second order: %s != %s", second.Order.ID, first.Order.ID)
		}
		return nil
	}

	return fmt.Errorf("unsupported mode: %s", cfg.mode)
}

// client — HTTP-клиент витрины, записывающий каждое обращение в collector.
type client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	col     *collector
}

func (c *client) placeOrder(ctx context.Context, body placeOrderBody, idemKey string) (orderResponse, error) {
	var resp orderResponse
	err := c.post(ctx, "PlaceOrder", "/api/orders", body, idemKey, &resp)
	if err == nil && resp.Order.ID == "" {
		err = errors.New("place order returned empty order id")
	}
	return resp, err
}

func (c *client) checkout(ctx context.Context, body checkoutBody) (checkoutResponse, error) {
	var resp checkoutResponse
	err := c.post(ctx, "Checkout", "/api/checkout", body, "", &resp)
	if err == nil && resp.PaymentIntentID == "" {
		err = errors.New("checkout returned empty payment intent id")
	}
	return resp, err
}

func (c *client) post(ctx context.Context, method, path string, body any, idemKey string, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if idemKey != "" {
		req.Header.Set(idempotencyHeader, idemKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.col.record(method, time.Since(start), codeTransport, false)
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	ok := err == nil && resp.StatusCode < http.StatusBadRequest
	c.col.record(method, time.Since(start), strconv.Itoa(resp.StatusCode), ok)
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	if !ok {
		return fmt.Errorf("%s: status %d: %s", method, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name != scenarioMethod {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(w, "%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, stats.Calls, stats.Success, stats.Failed, stats.ErrorRate, stats.LatencyMs.P95)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
