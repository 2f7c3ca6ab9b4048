package main

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"
)

// archiveRoot prefixes every entry so archives are recognisable and never
// extract into the working directory by accident.
const archiveRoot = "maistro-data"

func newBackupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup -f <output.tar.zst>",
		Short: "Archive the data directory (configurations, prompts, models, history)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("file")
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			n, err := runBackup(cfg.Data.Dir, output)
			if err != nil {
				return err
			}
			info, _ := os.Stat(output)
			size := int64(0)
			if info != nil {
				size = info.Size()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup complete: %d files, %s\n", n, formatSize(size))
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "", "output archive path")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newRestoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore -f <backup.tar.zst> [--overwrite]",
		Short: "Restore the data directory from a backup archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			input, _ := cmd.Flags().GetString("file")
			overwrite, _ := cmd.Flags().GetBool("overwrite")
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			n, err := runRestore(cfg.Data.Dir, input, overwrite)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restore complete: %d files\n", n)
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "", "archive to restore")
	cmd.Flags().Bool("overwrite", false, "replace files that already exist")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// runBackup writes every regular file and directory under dataDir into a
// zstd-compressed tar. It returns the number of files archived.
func runBackup(dataDir, outputPath string) (int, error) {
	absOut, _ := filepath.Abs(outputPath)

	f, err := os.Create(outputPath)
	if err != nil {
		return 0, fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return 0, fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	count := 0
	err = filepath.WalkDir(dataDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if abs, _ := filepath.Abs(p); abs == absOut {
			return nil
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dataDir, p)
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = path.Join(archiveRoot, filepath.ToSlash(rel))
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write tar header: %w", err)
		}
		if d.IsDir() {
			return nil
		}

		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		if _, err := io.Copy(tw, src); err != nil {
			return fmt.Errorf("write tar data: %w", err)
		}
		count++
		slog.Debug("archived", "file", rel)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("archive %s: %w", dataDir, err)
	}

	// Close everything explicitly to catch write errors
	if err := tw.Close(); err != nil {
		return 0, fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close file: %w", err)
	}
	return count, nil
}

// runRestore extracts an archive produced by runBackup into dataDir. Unless
// overwrite is set it refuses to touch a data directory that already holds
// any of the archived files.
func runRestore(dataDir, inputPath string, overwrite bool) (int, error) {
	files, err := scanArchive(inputPath)
	if err != nil {
		return 0, fmt.Errorf("scan archive: %w", err)
	}
	if len(files) == 0 {
		return 0, nil
	}

	if !overwrite {
		for _, rel := range files {
			if _, err := os.Stat(filepath.Join(dataDir, rel)); err == nil {
				return 0, fmt.Errorf("%s already exists, add --overwrite to replace files", filepath.Join(dataDir, rel))
			}
		}
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	count := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			continue
		}
		if err != nil {
			return count, fmt.Errorf("read tar entry: %w", err)
		}

		rel, ok := splitArchivePath(hdr.Name)
		if !ok {
			continue
		}
		target := filepath.Join(dataDir, filepath.FromSlash(rel))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return count, fmt.Errorf("create dir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := extractFile(tr, target, fs.FileMode(hdr.Mode).Perm()); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

func extractFile(r io.Reader, target string, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	return out.Close()
}

// scanArchive reads tar headers to collect the regular files an archive
// would restore, without extracting file data.
func scanArchive(p string) ([]string, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)

	var files []string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if rel, ok := splitArchivePath(hdr.Name); ok {
			files = append(files, filepath.FromSlash(rel))
		}
	}
	return files, nil
}

// splitArchivePath maps "maistro-data/prompts/a.md" to "prompts/a.md".
// Entries outside the archive root or escaping it are rejected.
func splitArchivePath(name string) (string, bool) {
	name = strings.TrimLeft(name, "./")
	if name == "" {
		return "", false
	}

	root, rel, found := strings.Cut(name, "/")
	if root != archiveRoot {
		return "", false
	}
	if !found || rel == "" {
		return ".", true
	}

	rel = path.Clean(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") || path.IsAbs(rel) {
		return "", false
	}
	return rel, true
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
