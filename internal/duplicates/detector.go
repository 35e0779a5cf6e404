// Package duplicates groups files by content identity using size, then a
// partial prefix hash, then a full content hash.
package duplicates

import (
	"bytes"
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fenilsonani/organizer/internal/fileerr"
	"github.com/fenilsonani/organizer/internal/hashing"
	"github.com/fenilsonani/organizer/internal/logging"
	"github.com/fenilsonani/organizer/internal/progress"
	"github.com/fenilsonani/organizer/internal/scanner"
	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	phasePartial = "partial"
	phaseFull    = "full"
)

// HashObserver receives the timing of every digest lookup
type HashObserver interface {
	ObserveHash(phase string, d time.Duration, err error)
}

// Options configures a Detector
type Options struct {
	Mode             Mode
	Algorithm        string
	PartialAlgorithm string
	PartialWindow    int64
	Workers          int

	Logger   zerolog.Logger
	Bus      *progress.Bus
	Observer HashObserver
}

// Result is the outcome of one detection
type Result struct {
	Groups     []Group
	Errors     *fileerr.Batch
	Candidates int
	Hashed     int64
}

// Detector finds duplicate groups. It never modifies the filesystem.
type Detector struct {
	src    hashing.Source
	opts   Options
	logger zerolog.Logger
}

// DefaultWorkers returns min(NumCPU, 8)
func DefaultWorkers() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	return n
}

// New creates a Detector reading digests from src
func New(src hashing.Source, opts Options) *Detector {
	if opts.Mode == "" {
		opts.Mode = ModeHybrid
	}
	if opts.Algorithm == "" {
		opts.Algorithm = hashing.DefaultAlgorithm
	}
	if opts.PartialAlgorithm == "" {
		opts.PartialAlgorithm = hashing.XXH64
	}
	if opts.PartialWindow <= 0 {
		opts.PartialWindow = hashing.DefaultPartialWindow
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers()
	}

	return &Detector{
		src:    src,
		opts:   opts,
		logger: logging.Component(opts.Logger, "duplicates").With().Str("mode", string(opts.Mode)).Logger(),
	}
}

// bucket is a set of candidates that may still share content
type bucket struct {
	size    int64
	digest  digest.Digest
	members []scanner.FileRecord
}

type hashJob struct {
	rec    scanner.FileRecord
	bucket int
}

// Detect groups records by content. Per-file failures drop that file from
// candidacy and are collected in Result.Errors. On cancellation the groups
// confirmed so far are returned together with the context error.
func (d *Detector) Detect(ctx context.Context, records []scanner.FileRecord) (*Result, error) {
	res := &Result{Errors: &fileerr.Batch{Phase: "hashing"}}
	var mu sync.Mutex

	emit := func(g Group) {
		mu.Lock()
		res.Groups = append(res.Groups, g)
		mu.Unlock()
		d.opts.Bus.DuplicateGroupFound(g)
		d.logger.Debug().
			Str("digest", hashing.Short(g.Digest)).
			Int64("size", g.Size).
			Int("members", len(g.Members)).
			Msg("Duplicate group confirmed")
	}

	sizeBuckets, empties := groupBySize(records)
	if len(empties) >= 2 {
		emptyDigest, err := d.emptyDigest(ctx)
		if err != nil {
			return res, err
		}
		emit(newGroup(emptyDigest, 0, toMembers(empties), true))
	}

	for _, b := range sizeBuckets {
		res.Candidates += len(b.members)
	}
	d.logger.Info().Int("candidates", res.Candidates).Int("size_groups", len(sizeBuckets)).Msg("Size grouping complete")

	var err error
	buckets := sizeBuckets
	if d.opts.Mode != ModeDeep {
		key := hashing.PartialKey(d.opts.PartialAlgorithm, d.opts.PartialWindow)
		buckets, err = d.refine(ctx, phasePartial, key, buckets, res, &mu, false, nil)
		if err != nil {
			return d.finish(res), err
		}
	}

	if d.opts.Mode == ModeFast {
		// Partial matches are reported as duplicates without confirmation.
		for _, b := range buckets {
			emit(newGroup(b.digest, b.size, toMembers(b.members), false))
		}
		return d.finish(res), nil
	}

	_, err = d.refine(ctx, phaseFull, d.opts.Algorithm, buckets, res, &mu, true, emit)
	return d.finish(res), err
}

func (d *Detector) finish(res *Result) *Result {
	SortGroups(res.Groups)
	if res.Errors.Len() > 0 {
		d.logger.Warn().Int("errors", res.Errors.Len()).Msg("Some files could not be hashed")
	}
	return res
}

// refine hashes every member of every bucket under key and splits each
// bucket by digest, dropping singletons. When emit is set, each input
// bucket's surviving sub-groups are emitted as soon as all of its members
// have been hashed.
func (d *Detector) refine(
	ctx context.Context,
	phase, key string,
	in []bucket,
	res *Result,
	mu *sync.Mutex,
	verified bool,
	emit func(Group),
) ([]bucket, error) {
	var jobs []hashJob
	for i, b := range in {
		for _, rec := range b.members {
			jobs = append(jobs, hashJob{rec: rec, bucket: i})
		}
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	type hashed struct {
		rec    scanner.FileRecord
		digest digest.Digest
	}
	results := make([][]hashed, len(in))
	remaining := make([]int, len(in))
	for i, b := range in {
		remaining[i] = len(b.members)
	}

	var out []bucket
	// split runs under mu once every member of bucket i has been hashed.
	split := func(i int) ([]bucket, []Group) {
		byDigest := make(map[digest.Digest][]scanner.FileRecord)
		for _, h := range results[i] {
			byDigest[h.digest] = append(byDigest[h.digest], h.rec)
		}
		var subs []bucket
		var groups []Group
		for dg, recs := range byDigest {
			if len(recs) < 2 {
				continue
			}
			subs = append(subs, bucket{size: in[i].size, digest: dg, members: recs})
			if emit != nil {
				groups = append(groups, newGroup(dg, in[i].size, toMembers(recs), verified))
			}
		}
		return subs, groups
	}

	total := int64(len(jobs))
	var done atomic.Int64

	err := d.hashAll(ctx, phase, key, jobs, func(job hashJob, dg digest.Digest, herr error) {
		mu.Lock()
		if herr != nil {
			res.Errors.Add("hash", job.rec.Path, herr)
		} else {
			results[job.bucket] = append(results[job.bucket], hashed{rec: job.rec, digest: dg})
		}
		res.Hashed++
		remaining[job.bucket]--
		var confirmed []Group
		if remaining[job.bucket] == 0 {
			subs, groups := split(job.bucket)
			out = append(out, subs...)
			confirmed = groups
		}
		mu.Unlock()

		for _, g := range confirmed {
			emit(g)
		}

		d.opts.Bus.HashProgress(done.Add(1), total)
	})

	sortBuckets(out)
	d.logger.Info().Str("phase", phase).Int64("hashed", done.Load()).Int("surviving", len(out)).Msg("Hash phase complete")
	return out, err
}

// hashAll resolves digests on a bounded pool. done is called once per
// job that was started; jobs not started because of cancellation are not
// reported.
func (d *Detector) hashAll(ctx context.Context, phase, key string, jobs []hashJob, done func(hashJob, digest.Digest, error)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Workers)

	for _, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			dg, err := d.src.GetOrCompute(gctx, job.rec.Path, key)
			if d.opts.Observer != nil {
				d.opts.Observer.ObserveHash(phase, time.Since(start), err)
			}
			if err != nil && gctx.Err() != nil {
				// In-flight work is discarded on cancellation.
				return gctx.Err()
			}
			done(job, dg, err)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (d *Detector) emptyDigest(ctx context.Context) (digest.Digest, error) {
	alg, err := hashing.Lookup(d.opts.Algorithm)
	if err != nil {
		return "", err
	}
	return hashing.HashReader(ctx, bytes.NewReader(nil), alg)
}

// groupBySize partitions records by exact size, dropping singletons and
// duplicate paths. Zero-byte files are returned separately.
func groupBySize(records []scanner.FileRecord) ([]bucket, []scanner.FileRecord) {
	seen := make(map[string]bool, len(records))
	bySize := make(map[int64][]scanner.FileRecord)
	var empties []scanner.FileRecord

	for _, rec := range records {
		if seen[rec.Path] {
			continue
		}
		seen[rec.Path] = true
		if rec.Size == 0 {
			empties = append(empties, rec)
			continue
		}
		bySize[rec.Size] = append(bySize[rec.Size], rec)
	}

	var buckets []bucket
	for size, recs := range bySize {
		if len(recs) < 2 {
			continue
		}
		buckets = append(buckets, bucket{size: size, members: recs})
	}
	sortBuckets(buckets)
	return buckets, empties
}

// sortBuckets orders buckets deterministically (largest files first)
func sortBuckets(buckets []bucket) {
	for _, b := range buckets {
		sort.Slice(b.members, func(i, j int) bool { return b.members[i].Path < b.members[j].Path })
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].size != buckets[j].size {
			return buckets[i].size > buckets[j].size
		}
		return buckets[i].members[0].Path < buckets[j].members[0].Path
	})
}

func toMembers(recs []scanner.FileRecord) []Member {
	out := make([]Member, len(recs))
	for i, r := range recs {
		out[i] = Member{Path: r.Path, ModTime: r.ModTime}
	}
	return out
}
