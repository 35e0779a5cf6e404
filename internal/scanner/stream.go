package scanner

import (
	"context"
)

// Collect drains a walk into a single ScanResult. Records and errors are
// consumed concurrently so neither channel can stall the producer.
func Collect(ctx context.Context, records <-chan FileRecord, errs <-chan error) *ScanResult {
	result := &ScanResult{
		Files:  []FileRecord{},
		Errors: []error{},
	}

	for records != nil || errs != nil {
		select {
		case rec, ok := <-records:
			if !ok {
				records = nil
				continue
			}
			result.Add(rec)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			result.Errors = append(result.Errors, err)
		case <-ctx.Done():
			result.Errors = append(result.Errors, ctx.Err())
			return result
		}
	}

	return result
}

// Scan runs a full walk and collects it
func (s *Scanner) Scan(ctx context.Context) *ScanResult {
	records, errs := s.Walk(ctx)
	return Collect(ctx, records, errs)
}
