package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kbukum/pipekit/errors"
	"github.com/kbukum/pipekit/logger"
	"github.com/kbukum/pipekit/pipe"
	"github.com/kbukum/pipekit/resilience"
)

// producer reads one integer per line from a file and writes each value to
// its tee source.
type producer struct {
	path    string
	src     *pipe.Pipe[int64]
	limiter *resilience.RateLimiter
	log     *logger.Logger
}

// run reads the whole file. Blank lines are skipped; any other line that is
// not an integer stops the producer.
func (p *producer) run(ctx context.Context) error {
	f, err := os.Open(p.path)
	if err != nil {
		return err
	}
	defer f.Close()

	var lines, written int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return errors.InvalidInput(p.path, fmt.Sprintf("line %d: %q is not an integer", lines, text))
		}

		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		p.src.Write(v)
		written++
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	p.log.Debug("input read", logger.Fields(
		"file", p.path,
		logger.FieldSource, p.src.Name(),
		"lines", lines,
		"written", written,
	))
	return nil
}
