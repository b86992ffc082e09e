// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datasources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewEdgarClient_RequiresUserAgent(t *testing.T) {
	if _, err := NewEdgarClient(""); err == nil {
		t.Fatal("expected error for empty User-Agent")
	}
	if _, err := NewEdgarClient("   "); err == nil {
		t.Fatal("expected error for blank User-Agent")
	}
	if _, err := NewEdgarClient("Jane Doe jane@example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEdgarClient_SendsUserAgentHeader(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		fmt.Fprint(w, `{"0":{"cik_str":320193,"ticker":"AAPL","title":"Apple Inc."}}`)
	}))
	defer server.Close()

	client := NewEdgarClientWithConfig("Jane Doe jane@example.com", server.URL, server.URL)
	if _, err := client.LookupCIK(context.Background(), "AAPL"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUA != "Jane Doe jane@example.com" {
		t.Errorf("User-Agent = %q", gotUA)
	}
}

func TestEdgarClient_LookupCIK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"0":{"cik_str":320193,"ticker":"AAPL","title":"Apple Inc."},
			"1":{"cik_str":789019,"ticker":"MSFT","title":"Microsoft Corp"}
		}`)
	}))
	defer server.Close()

	client := NewEdgarClientWithConfig("test test@example.com", server.URL, server.URL)

	cik, err := client.LookupCIK(context.Background(), "aapl")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cik != "0000320193" {
		t.Errorf("CIK = %q, want 0000320193", cik)
	}

	if _, err := client.LookupCIK(context.Background(), "NOPE"); err == nil {
		t.Error("expected error for unknown ticker")
	}
}

func TestEdgarClient_LatestFiling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "CIK0000320193") {
			t.Errorf("path = %q, expected padded CIK", r.URL.Path)
		}
		fmt.Fprint(w, `{"filings":{"recent":{
			"form":["8-K","10-K","10-Q"],
			"accessionNumber":["0000320193-25-000001","0000320193-25-000002","0000320193-25-000003"],
			"filingDate":["2025-08-01","2025-07-01","2025-06-01"],
			"primaryDocument":["a.htm","aapl-10k.htm","c.htm"]
		}}}`)
	}))
	defer server.Close()

	client := NewEdgarClientWithConfig("test test@example.com", server.URL, server.URL)

	filing, err := client.LatestFiling(context.Background(), "0000320193", "10-K")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filing.AccessionNumber != "0000320193-25-000002" {
		t.Errorf("accession = %q", filing.AccessionNumber)
	}
	if filing.PrimaryDocument != "aapl-10k.htm" {
		t.Errorf("primary document = %q", filing.PrimaryDocument)
	}
	if filing.FilingDate != "2025-07-01" {
		t.Errorf("filing date = %q", filing.FilingDate)
	}

	if _, err := client.LatestFiling(context.Background(), "0000320193", "S-1"); err == nil {
		t.Error("expected error for absent form type")
	}
}

func TestEdgarClient_FilingText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Accession dashes removed, CIK leading zeros trimmed.
		want := "/Archives/edgar/data/320193/000032019325000002/aapl-10k.htm"
		if r.URL.Path != want {
			t.Errorf("path = %q, want %q", r.URL.Path, want)
		}
		fmt.Fprint(w, `<html><body><p>Risk&nbsp;Factors are <b>significant</b>.</p></body></html>`)
	}))
	defer server.Close()

	client := NewEdgarClientWithConfig("test test@example.com", server.URL, server.URL)

	text, err := client.FilingText(context.Background(), &Filing{
		CIK:             "0000320193",
		Form:            "10-K",
		AccessionNumber: "0000320193-25-000002",
		PrimaryDocument: "aapl-10k.htm",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(text, "<") {
		t.Errorf("markup survived stripping: %q", text)
	}
	if !strings.Contains(text, "Risk Factors are significant") {
		t.Errorf("text = %q", text)
	}
}

func TestEdgarClient_BalanceSheetFacts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"entityName":"Apple Inc.","facts":{"us-gaap":{
			"Assets":{"label":"Assets","units":{"USD":[
				{"end":"2021-09-25","val":351002000000,"form":"10-K"},
				{"end":"2022-09-24","val":352755000000,"form":"10-K"},
				{"end":"2023-09-30","val":352583000000,"form":"10-K"},
				{"end":"2024-09-28","val":364980000000,"form":"10-K"},
				{"end":"2025-09-27","val":380000000000,"form":"10-K"}
			]}},
			"IrrelevantConcept":{"label":"x","units":{"USD":[{"end":"2025-01-01","val":1,"form":"10-K"}]}}
		}}}`)
	}))
	defer server.Close()

	client := NewEdgarClientWithConfig("test test@example.com", server.URL, server.URL)

	facts, err := client.BalanceSheetFacts(context.Background(), "0000320193")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assets, ok := facts["Assets"]
	if !ok {
		t.Fatal("expected Assets concept")
	}
	if len(assets) != 4 {
		t.Fatalf("Assets values = %d, want 4 (capped)", len(assets))
	}
	if assets[0].End != "2025-09-27" {
		t.Errorf("newest value first: got %q", assets[0].End)
	}
	if _, ok := facts["IrrelevantConcept"]; ok {
		t.Error("untracked concept should not be returned")
	}
}

func TestStripHTML(t *testing.T) {
	doc := `<html><head><style>p{color:red}</style><script>alert(1)</script></head>
	<body><h1>Title</h1><p>First&nbsp;line &amp; more.</p></body></html>`

	text := StripHTML(doc)
	if strings.Contains(text, "<") || strings.Contains(text, ">") {
		t.Errorf("tags survived: %q", text)
	}
	if strings.Contains(text, "alert") || strings.Contains(text, "color:red") {
		t.Errorf("script/style content survived: %q", text)
	}
	if !strings.Contains(text, "First line & more.") {
		t.Errorf("entities not decoded: %q", text)
	}
}

func TestExtractItem_TakesLastHeadingOccurrence(t *testing.T) {
	// The TOC mentions the heading once; the body repeats it later.
	text := "Table of Contents ... Item 1A Risk Factors ... Item 1B ... " +
		"Item 1A. Risk Factors\nOur business faces substantial risks.\n" +
		"Item 1B. Unresolved Staff Comments"

	section := ExtractItem(text, "Item 1A", "Item 1B")
	if !strings.Contains(section, "substantial risks") {
		t.Errorf("section = %q", section)
	}
	if strings.Contains(section, "Unresolved Staff Comments") {
		t.Errorf("section ran past end heading: %q", section)
	}
	if strings.Contains(section, "Table of Contents") {
		t.Errorf("section started at TOC: %q", section)
	}
}

func TestExtractItem_Item7DoesNotMatchItem7A(t *testing.T) {
	text := "Item 7. Management's Discussion\nRevenue grew 10%.\n" +
		"Item 7A. Quantitative Disclosures\nInterest rate risk.\n" +
		"Item 8. Financial Statements"

	section := MDASection(text)
	if !strings.Contains(section, "Revenue grew") {
		t.Errorf("section = %q", section)
	}
	if strings.Contains(section, "Interest rate risk") {
		t.Errorf("section leaked into Item 7A: %q", section)
	}
}

func TestExtractItem_MissingHeading(t *testing.T) {
	if got := ExtractItem("no headings here", "Item 1A", "Item 1B"); got != "" {
		t.Errorf("expected empty section, got %q", got)
	}
}
