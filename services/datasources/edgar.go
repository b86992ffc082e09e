// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datasources contains thin HTTP clients for the external market,
// filing, and research data providers the analyst tools draw from. Each
// client is constructed per session with the credentials that session
// presented and holds no global state.
package datasources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// DefaultEdgarAPIBaseURL serves structured filing data (submissions, XBRL facts).
const DefaultEdgarAPIBaseURL = "https://data.sec.gov"

// DefaultEdgarArchiveBaseURL serves filing documents and the ticker index.
const DefaultEdgarArchiveBaseURL = "https://www.sec.gov"

// EdgarClient fetches filings and financial facts from SEC EDGAR.
//
// Description:
//
//	EDGAR requires every automated client to identify itself through the
//	User-Agent header (e.g. "Jane Doe jane@example.com"). Construction
//	fails without one. All requests carry that header; EDGAR rate-limits
//	by it, so callers should reuse one client per session.
//
// Thread Safety: EdgarClient is safe for concurrent use.
type EdgarClient struct {
	httpClient     *http.Client
	userAgent      string
	apiBaseURL     string
	archiveBaseURL string
}

// NewEdgarClient creates an EdgarClient identifying as userAgent.
//
// Outputs:
//   - *EdgarClient: The configured client.
//   - error: Non-nil if userAgent is empty.
func NewEdgarClient(userAgent string) (*EdgarClient, error) {
	if strings.TrimSpace(userAgent) == "" {
		return nil, fmt.Errorf("edgar: identifying User-Agent is required")
	}
	return &EdgarClient{
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		userAgent:      userAgent,
		apiBaseURL:     DefaultEdgarAPIBaseURL,
		archiveBaseURL: DefaultEdgarArchiveBaseURL,
	}, nil
}

// NewEdgarClientWithConfig creates an EdgarClient with explicit base URLs.
// Useful for testing with mock servers.
func NewEdgarClientWithConfig(userAgent, apiBaseURL, archiveBaseURL string) *EdgarClient {
	return &EdgarClient{
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		userAgent:      userAgent,
		apiBaseURL:     apiBaseURL,
		archiveBaseURL: archiveBaseURL,
	}
}

// Filing identifies a single EDGAR filing.
type Filing struct {
	CIK             string `json:"cik"`
	Form            string `json:"form"`
	AccessionNumber string `json:"accession_number"`
	FilingDate      string `json:"filing_date"`
	PrimaryDocument string `json:"primary_document"`
}

// edgarTickerEntry is one row of the company_tickers.json index.
type edgarTickerEntry struct {
	CIK    int    `json:"cik_str"`
	Ticker string `json:"ticker"`
	Title  string `json:"title"`
}

// edgarSubmissions is the subset of the submissions API response we read.
// Recent filings arrive as parallel arrays.
type edgarSubmissions struct {
	Filings struct {
		Recent struct {
			Form            []string `json:"form"`
			AccessionNumber []string `json:"accessionNumber"`
			FilingDate      []string `json:"filingDate"`
			PrimaryDocument []string `json:"primaryDocument"`
		} `json:"recent"`
	} `json:"filings"`
}

// LookupCIK resolves a ticker symbol to a zero-padded 10-digit CIK.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - ticker: Ticker symbol, case-insensitive.
//
// Outputs:
//   - string: The CIK, zero-padded to 10 digits as the data APIs require.
//   - error: Non-nil if the ticker is unknown or the index is unavailable.
func (c *EdgarClient) LookupCIK(ctx context.Context, ticker string) (string, error) {
	body, err := c.get(ctx, c.archiveBaseURL+"/files/company_tickers.json")
	if err != nil {
		return "", fmt.Errorf("edgar: fetching ticker index: %w", err)
	}

	var index map[string]edgarTickerEntry
	if err := json.Unmarshal(body, &index); err != nil {
		return "", fmt.Errorf("edgar: parsing ticker index: %w", err)
	}

	want := strings.ToUpper(strings.TrimSpace(ticker))
	for _, entry := range index {
		if strings.ToUpper(entry.Ticker) == want {
			return fmt.Sprintf("%010d", entry.CIK), nil
		}
	}
	return "", fmt.Errorf("edgar: ticker %q not found in EDGAR index", ticker)
}

// LatestFiling returns the most recent filing of the given form type.
//
// Inputs:
//   - cik: Zero-padded 10-digit CIK from LookupCIK.
//   - form: Form type, e.g. "10-K" or "10-Q". Exact match.
//
// Outputs:
//   - *Filing: The newest matching filing (submissions are newest-first).
//   - error: Non-nil if no filing of that form exists.
func (c *EdgarClient) LatestFiling(ctx context.Context, cik, form string) (*Filing, error) {
	url := fmt.Sprintf("%s/submissions/CIK%s.json", c.apiBaseURL, cik)
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("edgar: fetching submissions: %w", err)
	}

	var subs edgarSubmissions
	if err := json.Unmarshal(body, &subs); err != nil {
		return nil, fmt.Errorf("edgar: parsing submissions: %w", err)
	}

	recent := subs.Filings.Recent
	for i, f := range recent.Form {
		if f != form {
			continue
		}
		if i >= len(recent.AccessionNumber) || i >= len(recent.PrimaryDocument) {
			break
		}
		return &Filing{
			CIK:             cik,
			Form:            form,
			AccessionNumber: recent.AccessionNumber[i],
			FilingDate:      recent.FilingDate[i],
			PrimaryDocument: recent.PrimaryDocument[i],
		}, nil
	}
	return nil, fmt.Errorf("edgar: no %s filing found for CIK %s", form, cik)
}

// FilingText downloads the filing's primary document and returns it as
// plain text with markup stripped.
func (c *EdgarClient) FilingText(ctx context.Context, filing *Filing) (string, error) {
	accession := strings.ReplaceAll(filing.AccessionNumber, "-", "")
	cikTrimmed := strings.TrimLeft(filing.CIK, "0")
	url := fmt.Sprintf("%s/Archives/edgar/data/%s/%s/%s",
		c.archiveBaseURL, cikTrimmed, accession, filing.PrimaryDocument)

	body, err := c.get(ctx, url)
	if err != nil {
		return "", fmt.Errorf("edgar: fetching filing document: %w", err)
	}

	text := StripHTML(string(body))
	slog.Debug("Fetched EDGAR filing",
		slog.String("form", filing.Form),
		slog.String("accession", filing.AccessionNumber),
		slog.Int("text_len", len(text)),
	)
	return text, nil
}

// FactValue is one reported value of an XBRL concept.
type FactValue struct {
	End   string  `json:"end"`
	Value float64 `json:"val"`
	Form  string  `json:"form"`
	Frame string  `json:"frame,omitempty"`
}

// edgarCompanyFacts is the subset of the companyfacts API response we read.
type edgarCompanyFacts struct {
	EntityName string `json:"entityName"`
	Facts      struct {
		UsGAAP map[string]struct {
			Label string                 `json:"label"`
			Units map[string][]FactValue `json:"units"`
		} `json:"us-gaap"`
	} `json:"facts"`
}

// balanceSheetConcepts are the us-gaap concepts surfaced by BalanceSheetFacts.
var balanceSheetConcepts = []string{
	"Assets",
	"AssetsCurrent",
	"Liabilities",
	"LiabilitiesCurrent",
	"StockholdersEquity",
	"CashAndCashEquivalentsAtCarryingValue",
	"LongTermDebtNoncurrent",
}

// BalanceSheetFacts returns recent annual balance-sheet values by concept.
//
// Description:
//
//	Reads the XBRL company-facts API and extracts a fixed set of us-gaap
//	balance-sheet concepts reported in USD. For each concept the most
//	recent values are returned newest-first, capped at four periods.
//
// Outputs:
//   - map[string][]FactValue: Concept name → reported values, newest first.
//   - error: Non-nil on transport or parse failure. An entity with none of
//     the tracked concepts yields an empty map and nil error.
func (c *EdgarClient) BalanceSheetFacts(ctx context.Context, cik string) (map[string][]FactValue, error) {
	url := fmt.Sprintf("%s/api/xbrl/companyfacts/CIK%s.json", c.apiBaseURL, cik)
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("edgar: fetching company facts: %w", err)
	}

	var facts edgarCompanyFacts
	if err := json.Unmarshal(body, &facts); err != nil {
		return nil, fmt.Errorf("edgar: parsing company facts: %w", err)
	}

	out := make(map[string][]FactValue)
	for _, concept := range balanceSheetConcepts {
		entry, ok := facts.Facts.UsGAAP[concept]
		if !ok {
			continue
		}
		values, ok := entry.Units["USD"]
		if !ok || len(values) == 0 {
			continue
		}
		// Values arrive oldest-first; keep the last four, newest first.
		n := len(values)
		start := n - 4
		if start < 0 {
			start = 0
		}
		recent := make([]FactValue, 0, n-start)
		for i := n - 1; i >= start; i-- {
			recent = append(recent, values[i])
		}
		out[concept] = recent
	}
	return out, nil
}

func (c *EdgarClient) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d from %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}

// =============================================================================
// Filing Text Extraction
// =============================================================================

var (
	htmlTagPattern    = regexp.MustCompile(`(?s)<[^>]*>`)
	htmlScriptPattern = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	whitespacePattern = regexp.MustCompile(`[ \t\x{a0}]+`)
	blankLinePattern  = regexp.MustCompile(`\n{3,}`)
)

// StripHTML reduces an EDGAR HTML document to readable plain text.
//
// Description:
//
//	Removes script/style blocks and tags, decodes the handful of entities
//	common in filings, and collapses whitespace. Good enough for section
//	extraction and LLM consumption; not a general HTML renderer.
func StripHTML(doc string) string {
	text := htmlScriptPattern.ReplaceAllString(doc, " ")
	text = htmlTagPattern.ReplaceAllString(text, " ")

	replacer := strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#8217;", "'",
		"&#8220;", `"`,
		"&#8221;", `"`,
	)
	text = replacer.Replace(text)

	text = whitespacePattern.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	text = strings.Join(lines, "\n")
	text = blankLinePattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// ExtractItem returns the text between the start item heading and the first
// of the end item headings that follows it.
//
// Description:
//
//	10-K items are located by their "Item N." headings. Filings repeat the
//	headings in the table of contents, so the LAST occurrence of the start
//	heading is used; the body always follows the TOC entry.
//
// Inputs:
//   - text: Plain filing text from FilingText.
//   - startItem: Heading that opens the section, e.g. "Item 1A".
//   - endItems: Candidate headings that close it, e.g. "Item 1B", "Item 2".
//
// Outputs:
//   - string: The section text, or "" when the heading is absent.
func ExtractItem(text, startItem string, endItems ...string) string {
	// \b keeps "Item 7" from matching inside "Item 7A".
	startPat, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(startItem) + `\b`)
	if err != nil {
		return ""
	}
	matches := startPat.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return ""
	}
	start := matches[len(matches)-1][0]
	bodyStart := matches[len(matches)-1][1]

	end := len(text)
	for _, endItem := range endItems {
		endPat, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(endItem) + `\b`)
		if err != nil {
			continue
		}
		if loc := endPat.FindStringIndex(text[bodyStart:]); loc != nil && bodyStart+loc[0] < end {
			end = bodyStart + loc[0]
		}
	}
	return strings.TrimSpace(text[start:end])
}

// RiskFactorsSection extracts Item 1A (Risk Factors) from a 10-K.
func RiskFactorsSection(text string) string {
	return ExtractItem(text, "Item 1A", "Item 1B", "Item 2")
}

// MDASection extracts Item 7 (Management's Discussion and Analysis) from a 10-K.
func MDASection(text string) string {
	return ExtractItem(text, "Item 7", "Item 7A", "Item 8")
}
