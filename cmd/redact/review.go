package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/raaihank/doc-sentinel/internal/engine"
	"github.com/raaihank/doc-sentinel/internal/ingest"
	"github.com/raaihank/doc-sentinel/internal/logger"
	"github.com/raaihank/doc-sentinel/internal/model"
	"github.com/raaihank/doc-sentinel/internal/store"
	"go.uber.org/zap"
)

const (
	policyFail    = "fail"
	policyApprove = "approve"
	policyReject  = "reject"
)

func validPolicy(p string) bool {
	return p == policyFail || p == policyApprove || p == policyReject
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// collectInputs reads every file named directly and every supported file
// below named directories, in lexical order.
func collectInputs(paths []string, log *logger.Logger) ([]ingest.Input, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if ingest.DetectFormat(path) == ingest.FormatUnknown {
				log.Debug("Skipping unsupported file", zap.String("path", path))
				return nil
			}
			files = append(files, path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
	}
	sort.Strings(files)

	inputs := make([]ingest.Input, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		inputs = append(inputs, ingest.Input{Name: filepath.Base(f), Data: data})
	}
	return inputs, nil
}

// applyPolicy resolves every pending entity the same way. The fail policy
// leaves them pending so export refuses.
func applyPolicy(ctx context.Context, eng *engine.Engine, policy string) error {
	if policy == policyFail {
		return nil
	}
	for _, e := range eng.Entities(store.Filter{Status: model.StatusPending}) {
		var err error
		if policy == policyApprove {
			_, err = eng.Approve(ctx, e.ID)
		} else {
			_, err = eng.Reject(ctx, e.ID)
		}
		if err != nil {
			return fmt.Errorf("resolve %s: %w", e.Token, err)
		}
	}
	return nil
}

type listedEntity struct {
	Token    string        `json:"token"`
	Type     model.PIIType `json:"type"`
	Document string        `json:"document"`
	BlockID  string        `json:"blockId"`
	Start    int           `json:"start"`
	Length   int           `json:"length"`
	Source   model.Source  `json:"source"`
	Status   model.Status  `json:"status"`
}

type listOutput struct {
	*engine.BatchSummary
	Detected []listedEntity `json:"detected"`
}

// listing reports entity locations without their original text
func listing(eng *engine.Engine, summary *engine.BatchSummary) listOutput {
	names := make(map[string]string)
	for _, d := range eng.Documents() {
		names[d.ID] = d.OriginalName
	}

	entities := eng.Entities(store.Filter{})
	out := listOutput{BatchSummary: summary, Detected: make([]listedEntity, 0, len(entities))}
	for _, e := range entities {
		out.Detected = append(out.Detected, listedEntity{
			Token:    e.Token,
			Type:     e.Type,
			Document: names[e.DocumentID],
			BlockID:  e.BlockID,
			Start:    e.Start,
			Length:   e.Length,
			Source:   e.Source,
			Status:   e.Status,
		})
	}
	return out
}
