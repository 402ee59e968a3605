package parsers

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"aih-reconciliation-service/internal/models"
	"aih-reconciliation-service/pkg/errors"
	"aih-reconciliation-service/pkg/logger"
)

// RecordBatchCallback receives parsed records in batches of at most
// SISAIHConfig.BatchSize. Returning an error stops the stream.
type RecordBatchCallback func([]*models.AIHRecord) error

// maxLineBytes bounds a single line. A full line is 1600 characters, which
// is at most 3200 bytes once Latin-1 is decoded to UTF-8. Longer lines are
// skipped as SkipTooLong.
const maxLineBytes = 64 * 1024

// readLine returns the next line including its terminator. A line longer
// than limit is consumed up to its newline and reported with tooLong set
// and no text. io.EOF is returned only when nothing is left.
func readLine(br *bufio.Reader, limit int) (line string, tooLong bool, err error) {
	var buf []byte
	read := false
	for {
		chunk, err := br.ReadSlice('\n')
		read = read || len(chunk) > 0
		if !tooLong {
			if len(buf)+len(chunk) > limit {
				tooLong, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}

		switch err {
		case nil:
			return string(buf), tooLong, nil
		case bufio.ErrBufferFull:
			continue
		case io.EOF:
			if !read {
				return "", false, io.EOF
			}
			return string(buf), tooLong, nil
		default:
			return "", tooLong, err
		}
	}
}

// Stream reads src line by line and hands retained records to callback in
// batches, so extracts larger than memory can be processed. Skipped lines
// are counted per reason. Cancelling ctx stops the stream between lines.
func (r *SISAIHReader) Stream(ctx context.Context, src io.Reader, name string, callback RecordBatchCallback) (*SISAIHStats, error) {
	stats := NewSISAIHStats()
	stats.Files = []string{name}
	log := r.logger.WithField(logger.FieldFile, name)

	if r.config.Encoding == EncodingLatin1 {
		src = transform.NewReader(src, charmap.ISO8859_1.NewDecoder())
	}

	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Operation:   "parse " + name,
		Unit:        "lines",
		LogInterval: r.config.ProgressInterval,
		Logger:      log,
	})

	br := bufio.NewReaderSize(src, 8*1024)

	batch := make([]*models.AIHRecord, 0, r.config.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := callback(batch); err != nil {
			return errors.InternalError(errors.CodeProcessingError, "handling parsed batch", err)
		}
		batch = make([]*models.AIHRecord, 0, r.config.BatchSize)
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			progress.CompleteWithError(err)
			return stats, errors.InternalError(errors.CodeCancelled, "parsing "+name, err)
		}

		line, tooLong, err := readLine(br, maxLineBytes)
		if err == io.EOF {
			break
		}
		if err != nil {
			progress.CompleteWithError(err)
			return stats, errors.ParseError(errors.CodeInvalidFormat, name, stats.Lines+1, "line", "",
				fmt.Errorf("reading extract: %w", err))
		}

		stats.Lines++
		progress.Increment()

		if tooLong {
			stats.Skipped[SkipTooLong]++
			log.WithFields(logger.Fields{"line": stats.Lines, "limit_bytes": maxLineBytes}).Warn("Skipped overlong SISAIH01 line")
			continue
		}
		if strings.TrimSpace(line) == "" {
			stats.BlankLines++
			continue
		}

		rec, reason := r.parser.ParseLine(line)
		if reason != SkipNone {
			stats.Skipped[reason]++
			log.WithFields(logger.Fields{"line": stats.Lines, "reason": reason}).Debug("Skipped SISAIH01 line")
			continue
		}
		rec.LineNumber = stats.Lines

		stats.Records++
		stats.ByType[rec.RecordType]++
		batch = append(batch, rec)
		if len(batch) >= r.config.BatchSize {
			if err := flush(); err != nil {
				progress.CompleteWithError(err)
				return stats, err
			}
		}
	}

	if err := flush(); err != nil {
		progress.CompleteWithError(err)
		return stats, err
	}

	progress.Complete()
	log.WithFields(logger.Fields{
		"lines":   stats.Lines,
		"records": stats.Records,
		"skipped": stats.SkippedTotal(),
	}).Info("SISAIH01 extract parsed")

	return stats, nil
}
