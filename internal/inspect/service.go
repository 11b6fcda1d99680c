package inspect

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/zhukov-alex/flakeid/internal/snowflake"
)

var ErrInvalidID = errors.New("invalid id")

type Service struct {
	decoder snowflake.Decoder
	logger  *zap.Logger
}

func NewService(logger *zap.Logger, decoder snowflake.Decoder) *Service {
	return &Service{
		decoder: decoder,
		logger:  logger,
	}
}

// Describe writes one table row per ID. Arguments that do not parse get an
// error row; the returned error joins all of them.
func (s *Service) Describe(w io.Writer, ids []string) error {
	logger := s.logger.With(zap.String("method", "Describe"))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNODE\tSEQUENCE\tTIMESTAMP_MS\tTIME")

	var errs []error
	for _, raw := range ids {
		p, err := s.parse(raw)
		if err != nil {
			errs = append(errs, err)
			fmt.Fprintf(tw, "%s\t-\t-\t-\t%v\n", raw, err)
			continue
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%s\n",
			p.ID, p.NodeID, p.Sequence, p.Timestamp, p.Time().Format(time.RFC3339Nano))
	}

	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write table: %w", err)
	}

	if len(errs) > 0 {
		logger.Debug("some ids could not be decoded", zap.Int("invalid", len(errs)), zap.Int("total", len(ids)))
		return errors.Join(errs...)
	}
	return nil
}

// ReadIDs collects whitespace separated IDs from r.
func ReadIDs(r io.Reader) ([]string, error) {
	var ids []string
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)
	for sc.Scan() {
		ids = append(ids, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read ids: %w", err)
	}
	return ids, nil
}

func (s *Service) parse(raw string) (snowflake.Parts, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return snowflake.Parts{}, fmt.Errorf("%w %q: not a decimal int64", ErrInvalidID, raw)
	}
	return s.decoder.Decode(id), nil
}
