package pixcrypt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bodgit/pixcrypt/client"
)

const (
	defaultWorkers = 4
	maxSourceSize  = client.MaxText
)

// Encrypted describes one file encrypted by EncryptDir
type Encrypted struct {
	Source    string
	Image     string
	SessionID string
	FileName  string
}

func (v *Vault) findFiles(ctx context.Context, base string) (<-chan string, <-chan error, error) {
	out := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		errc <- filepath.Walk(base, func(file string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}

			// Ignore any hidden files or directories
			if info.Name()[0] == '.' && file != base {
				if info.Mode().IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			// Only the top directory is encrypted
			if info.Mode().IsDir() {
				if file != base {
					return filepath.SkipDir
				}
				return nil
			}

			if !info.Mode().IsRegular() || filepath.Ext(file) != ".txt" {
				return nil
			}

			if info.Size() > maxSourceSize {
				v.logger.Warn("skipping large file", "file", file, "size", info.Size())
				return nil
			}

			select {
			case out <- file:
			case <-ctx.Done():
				return errors.New("walk cancelled")
			}

			return nil
		})
	}()
	return out, errc, nil
}

func (v *Vault) encryptWorker(ctx context.Context, in <-chan string, dir string, results *encryptedList) (<-chan error, error) {
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		for file := range in {
			s, out, err := v.EncryptFile(ctx, file, dir)
			if err != nil {
				errc <- err
				return
			}
			results.add(Encrypted{Source: file, Image: out, SessionID: s.ID, FileName: s.FileName})
		}
	}()
	return errc, nil
}

type encryptedList struct {
	mu   sync.Mutex
	list []Encrypted
}

func (l *encryptedList) add(e Encrypted) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.list = append(l.list, e)
}

// waitForPipeline waits for every stage to finish and returns the first
// error, cancelling the rest of the pipeline when it arrives
func waitForPipeline(cancel context.CancelFunc, errs ...<-chan error) error {
	var first error
	errc := mergeErrors(errs...)
	for err := range errc {
		if err != nil && first == nil {
			first = err
			cancel()
		}
	}
	return first
}

func mergeErrors(cs ...<-chan error) <-chan error {
	var wg sync.WaitGroup
	out := make(chan error, len(cs))
	wg.Add(len(cs))
	for _, c := range cs {
		go func(c <-chan error) {
			for n := range c {
				out <- n
			}
			wg.Done()
		}(c)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// EncryptDir encrypts every .txt file in path, writing the main images into
// dir. Each file gets its own session. Hidden files and subdirectories are
// ignored. The first error stops the walk; whatever was encrypted before it
// is still returned.
func (v *Vault) EncryptDir(ctx context.Context, path, dir string, workers int) ([]Encrypted, error) {
	base, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = defaultWorkers
	}

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	var errcList []<-chan error

	files, errc, err := v.findFiles(ctx, base)
	if err != nil {
		return nil, err
	}
	errcList = append(errcList, errc)

	results := new(encryptedList)
	for i := 0; i < workers; i++ {
		errc, err := v.encryptWorker(ctx, files, dir, results)
		if err != nil {
			return nil, err
		}
		errcList = append(errcList, errc)
	}

	err = waitForPipeline(cancelFunc, errcList...)

	sort.Slice(results.list, func(i, j int) bool { return results.list[i].Source < results.list[j].Source })

	return results.list, err
}
