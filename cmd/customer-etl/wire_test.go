package main

import (
	"path/filepath"
	"testing"

	"customeretl/internal/config"
)

func TestBuildPipeline_ParserOptions(t *testing.T) {
	cases := []struct {
		name          string
		opts          config.Options
		wantNormalize bool
		wantComma     rune
	}{
		{name: "headers kept as declared", opts: config.Options{}, wantNormalize: false, wantComma: ','},
		{name: "normalisation opted in", opts: config.Options{"normalize_headers": true, "comma": ";"}, wantNormalize: true, wantComma: ';'},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var p config.Pipeline
			p.Storage.Kind = "sqlite"
			p.Storage.DB.DSN = filepath.Join(t.TempDir(), "etl.db")
			p.ApplyDefaults()
			p.Parser.Options = tc.opts

			pl, closeFn, err := buildPipeline(p)
			if err != nil {
				t.Fatalf("buildPipeline: %v", err)
			}
			defer closeFn()

			got := pl.Extractor.Parser
			if got.NormalizeHeaders != tc.wantNormalize || got.Comma != tc.wantComma {
				t.Fatalf("parser options %+v", got)
			}
			if pl.Store.Kind != "sqlite" || pl.Store.Table != config.DefaultTable {
				t.Fatalf("store %+v", pl.Store)
			}
		})
	}
}

func TestBuildPipeline_BadTimezone(t *testing.T) {
	var p config.Pipeline
	p.Storage.Kind = "sqlite"
	p.Storage.DB.DSN = "etl.db"
	p.Transform.Timezone = "Mars/Olympus_Mons"
	p.ApplyDefaults()

	if _, _, err := buildPipeline(p); err == nil {
		t.Fatalf("expected unknown time zone error")
	}
}
