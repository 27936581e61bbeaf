package main

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	snapshotName string
)

// snapshotCmd stages a tar of the repository's durable artifacts (db and
// changes). Turning that tar into a distributable ISO image is an external
// packaging step this command does not perform.
var snapshotCmd = &cobra.Command{
	Use:   "snapshot OUTDIR",
	Short: "Stage a tar of the repository for external ISO packaging",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outDir := args[0]
		return withRepo(true, func(repo *repoT) error {
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			name := snapshotName
			if name == "" {
				name = "historify-snapshot.tar"
			}
			outPath := filepath.Join(outDir, name)
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer f.Close()

			tw := tar.NewWriter(f)
			for _, dir := range []string{repo.DB, repo.Changes} {
				if err := addDirToTar(tw, repo.Root, dir); err != nil {
					tw.Close()
					return err
				}
			}
			if err := tw.Close(); err != nil {
				return err
			}

			fmt.Println("staged", outPath)
			fmt.Println("ISO authoring is an external packaging step; this command only tars db/ and changes/")
			if err := repo.Comment("snapshot staged: " + outPath); err != nil {
				return err
			}
			return nil
		})
	},
}

func addDirToTar(tw *tar.Writer, root, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

func init() {
	snapshotCmd.Flags().StringVar(&snapshotName, "name", "", "tar file name, default historify-snapshot.tar")
	rootCmd.AddCommand(snapshotCmd)
}
