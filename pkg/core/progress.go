/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: progress.go
Description: Append-only CSV progress log. The header is written only when the file is new
or empty so repeated sessions can share one log.
*/

package core

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/kleascm/akaylee-greybox/pkg/interfaces"
	"github.com/spf13/afero"
)

// ProgressHeader is the column layout of the progress log
var ProgressHeader = []string{"Iteration", "Coverage", "Mode", "CorpusSize", "Crashes", "Timeouts"}

// ProgressLog appends one row per progress event
type ProgressLog struct {
	file afero.File
	w    *csv.Writer
}

// OpenProgressLog opens path for appending, writing the header if the file is empty
func OpenProgressLog(fs afero.Fs, path string) (*ProgressLog, error) {
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open progress log %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat progress log %s: %w", path, err)
	}

	p := &ProgressLog{file: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := p.write(ProgressHeader); err != nil {
			f.Close()
			return nil, err
		}
	}
	return p, nil
}

// Record appends one row and flushes it
func (p *ProgressLog) Record(pr interfaces.Progress) error {
	return p.write([]string{
		strconv.Itoa(pr.Iteration),
		strconv.Itoa(pr.Coverage),
		string(pr.Mode),
		strconv.Itoa(pr.CorpusSize),
		strconv.FormatInt(pr.Crashes, 10),
		strconv.FormatInt(pr.Timeouts, 10),
	})
}

func (p *ProgressLog) write(row []string) error {
	if err := p.w.Write(row); err != nil {
		return fmt.Errorf("failed to write progress row: %w", err)
	}
	p.w.Flush()
	if err := p.w.Error(); err != nil {
		return fmt.Errorf("failed to flush progress log: %w", err)
	}
	return nil
}

// Close flushes and closes the file. Calling it twice is safe.
func (p *ProgressLog) Close() error {
	if p == nil || p.file == nil {
		return nil
	}
	p.w.Flush()
	err := p.file.Close()
	p.file = nil
	if err != nil {
		return fmt.Errorf("failed to close progress log: %w", err)
	}
	return nil
}
