package containers

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/kiesamples/timerharness/internal/topology"
)

// StageContext copies a node's injected files into a fresh build context
// directory under fs. Directories are copied recursively. When the node
// carries an image label, a LABEL instruction is appended to the Dockerfile
// so built images can be found and removed at teardown.
func StageContext(fs afero.Fs, spec topology.NodeSpec) (string, error) {
	dir, err := afero.TempDir(fs, "", "timerharness-"+spec.Name+"-")
	if err != nil {
		return "", fmt.Errorf("creating build context: %w", err)
	}

	for _, f := range spec.Files {
		dst := filepath.Join(dir, filepath.FromSlash(f.Target))
		if err := copyPath(fs, f.Source, dst); err != nil {
			_ = fs.RemoveAll(dir)
			return "", fmt.Errorf("staging %s: %w", f.Source, err)
		}
	}

	if spec.ImageLabel != "" {
		dockerfile := filepath.Join(dir, spec.Dockerfile)
		if err := appendLabel(fs, dockerfile, spec.ImageLabel); err != nil {
			_ = fs.RemoveAll(dir)
			return "", err
		}
	}
	return dir, nil
}

func copyPath(fs afero.Fs, src, dst string) error {
	info, err := fs.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(fs, src, dst, info.Mode())
	}
	return afero.Walk(fs, src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if fi.IsDir() {
			return fs.MkdirAll(target, 0o755)
		}
		return copyFile(fs, path, target, fi.Mode())
	})
}

func copyFile(fs afero.Fs, src, dst string, mode os.FileMode) error {
	if err := fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func appendLabel(fs afero.Fs, dockerfile, label string) error {
	data, err := afero.ReadFile(fs, dockerfile)
	if err != nil {
		return fmt.Errorf("reading Dockerfile: %w", err)
	}
	content := string(data)
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += "LABEL " + label + "\n"
	if err := afero.WriteFile(fs, dockerfile, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing Dockerfile: %w", err)
	}
	return nil
}
