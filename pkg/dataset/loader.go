// Package dataset loads evaluation samples from JSON, JSONL, and CSV
// files, streaming where the format allows it.
package dataset

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"evalgo/pkg/core"
)

type FileDataset struct {
	Path     string
	NameHint string
}

func NewFileDataset(path string) *FileDataset {
	return &FileDataset{Path: path}
}

func (d *FileDataset) Name() string {
	if d.NameHint != "" {
		return d.NameHint
	}
	return filepath.Base(d.Path)
}

func (d *FileDataset) Len(ctx context.Context) (int, error) {
	format, err := detectFormat(d.Path)
	if err != nil {
		return 0, err
	}
	switch format {
	case "json":
		samples, err := loadJSONSamples(d.Path)
		if err != nil {
			return 0, err
		}
		return len(samples), nil
	case "jsonl":
		return countLines(ctx, d.Path)
	case "csv":
		n, err := countLines(ctx, d.Path)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			n-- // header row
		}
		return n, nil
	default:
		return 0, errors.New("dataset: unsupported format")
	}
}

func (d *FileDataset) Samples(ctx context.Context) (<-chan core.Sample, <-chan error) {
	sampleCh := make(chan core.Sample)
	errCh := make(chan error, 1)

	go func() {
		defer close(sampleCh)
		defer close(errCh)

		format, err := detectFormat(d.Path)
		if err != nil {
			errCh <- err
			return
		}

		switch format {
		case "json":
			samples, err := loadJSONSamples(d.Path)
			if err != nil {
				errCh <- err
				return
			}
			if err := emit(ctx, samples, sampleCh); err != nil {
				errCh <- err
			}
		case "jsonl":
			if err := streamJSONL(ctx, d.Path, sampleCh); err != nil {
				errCh <- err
			}
		case "csv":
			if err := streamCSV(ctx, d.Path, sampleCh); err != nil {
				errCh <- err
			}
		default:
			errCh <- errors.New("dataset: unsupported format")
		}
	}()

	return sampleCh, errCh
}

func emit(ctx context.Context, samples []core.Sample, out chan<- core.Sample) error {
	for i, sample := range samples {
		normalize(&sample, i)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- sample:
		}
	}
	return nil
}

// normalize fills defaults for samples that omit them: a positional ID
// and epoch 1.
func normalize(s *core.Sample, index int) {
	if s.ID == "" {
		s.ID = fmt.Sprintf("%d", index+1)
	}
	if s.Epoch <= 0 {
		s.Epoch = 1
	}
}

func detectFormat(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl":
		return "jsonl", nil
	case ".json":
		return "json", nil
	case ".csv":
		return "csv", nil
	}

	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	for {
		b, err := reader.ReadByte()
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(string(b)) == "" {
			continue
		}
		if b == '[' {
			return "json", nil
		}
		if b == '{' {
			return "", errors.New("dataset: JSON object is not supported, use array or JSONL")
		}
		return "", errors.New("dataset: unsupported format")
	}
}

func loadJSONSamples(path string) ([]core.Sample, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var samples []core.Sample
	if err := json.NewDecoder(file).Decode(&samples); err != nil {
		return nil, err
	}
	return samples, nil
}

func streamJSONL(ctx context.Context, path string, out chan<- core.Sample) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	index := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var sample core.Sample
		if err := json.Unmarshal([]byte(line), &sample); err != nil {
			return err
		}
		normalize(&sample, index)
		index++
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- sample:
		}
	}
	return scanner.Err()
}

// streamCSV reads rows with a header line. Recognized columns are id,
// input, and target; any other column lands in the sample's metadata.
func streamCSV(ctx context.Context, path string, out chan<- core.Sample) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("dataset: reading csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	index := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		var sample core.Sample
		for i, value := range record {
			if i >= len(header) {
				break
			}
			switch header[i] {
			case "id":
				sample.ID = value
			case "input":
				sample.Input = value
			case "target":
				sample.Target = value
			default:
				if sample.Metadata == nil {
					sample.Metadata = make(map[string]string)
				}
				sample.Metadata[header[i]] = value
			}
		}
		normalize(&sample, index)
		index++
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- sample:
		}
	}
}

func countLines(ctx context.Context, path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	count := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if strings.TrimSpace(scanner.Text()) != "" {
			count++
		}
	}
	return count, scanner.Err()
}

// Collect drains a dataset into a slice for task planning.
func Collect(ctx context.Context, ds core.Dataset) ([]core.Sample, error) {
	ch, errCh := ds.Samples(ctx)
	var out []core.Sample
	for sample := range ch {
		out = append(out, sample)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return out, nil
}
