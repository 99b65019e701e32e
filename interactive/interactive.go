// interactive/interactive.go
package interactive

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/sammcj/toolbridge/bridge"
)

var logger = xlog.NewPackageLogger("github.com/sammcj/toolbridge", "interactive")

// Processor answers one query
type Processor interface {
	ProcessQuery(ctx context.Context, query string) (*bridge.Result, error)
}

// Info is printed in the banner
type Info struct {
	Model     string
	Transport string
	Tools     []string
}

type Interactive struct {
	scanner   *bufio.Reader
	out       io.Writer
	processor Processor
	info      Info
}

func New(processor Processor, in io.Reader, out io.Writer, info Info) *Interactive {
	return &Interactive{
		scanner:   bufio.NewReader(in),
		out:       out,
		processor: processor,
		info:      info,
	}
}

// Start reads queries until quit, exit, end of input or ctx is done.
// A failed query is reported and the loop continues.
func (i *Interactive) Start(ctx context.Context) error {
	fmt.Fprintln(i.out, "\n=== toolbridge chat ===")
	fmt.Fprintln(i.out, "Type 'quit' or press Ctrl+D to exit")
	if i.info.Model != "" {
		fmt.Fprintln(i.out, "Model:", i.info.Model)
	}
	if i.info.Transport != "" {
		fmt.Fprintln(i.out, "Tool provider:", i.info.Transport)
	}
	if len(i.info.Tools) > 0 {
		fmt.Fprintln(i.out, "Tools:", strings.Join(i.info.Tools, ", "))
	}
	fmt.Fprintln(i.out, "=======================")

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		fmt.Fprint(i.out, "\nEnter your message: ")
		input, err := i.scanner.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return errors.Wrap(err, "failed to read input")
		}
		eof := errors.Is(err, io.EOF)

		input = strings.TrimSpace(input)
		if input == "quit" || input == "exit" {
			fmt.Fprintln(i.out, "Goodbye!")
			return nil
		}
		if input != "" {
			i.handle(ctx, input)
		}
		if eof {
			fmt.Fprintln(i.out)
			return nil
		}
	}
}

func (i *Interactive) handle(ctx context.Context, input string) {
	logger.ContextKV(ctx, xlog.DEBUG, "status", "query", "length", len(input))

	res, err := i.processor.ProcessQuery(ctx, input)
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR, "reason", "query_failed", "err", err.Error())
		fmt.Fprintf(i.out, "\nError: %v\n", err)
		return
	}

	if res.Answer == "" {
		fmt.Fprintln(i.out, "\nNo response received.")
		return
	}
	fmt.Fprintf(i.out, "\n%s\n", res.Answer)
}
