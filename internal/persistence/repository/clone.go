package repository

import "github.com/davidroman0O/studioflow/internal/types"

func cloneMetadata(m types.Metadata) types.Metadata {
	if m == nil {
		return nil
	}
	out := make(types.Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneRecord(r types.Record) types.Record {
	r.Metadata = cloneMetadata(r.Metadata)
	if r.PreviewImages != nil {
		r.PreviewImages = append([]string(nil), r.PreviewImages...)
	}
	if r.Payload != nil {
		r.Payload = append([]byte(nil), r.Payload...)
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		r.CompletedAt = &t
	}
	return r
}

func cloneExecution(e types.Execution) types.Execution {
	if e.Trigger.Payload != nil {
		e.Trigger.Payload = append([]byte(nil), e.Trigger.Payload...)
	}
	return e
}

func cloneLedgerEntry(e types.LedgerEntry) types.LedgerEntry {
	e.Metadata = cloneMetadata(e.Metadata)
	return e
}
