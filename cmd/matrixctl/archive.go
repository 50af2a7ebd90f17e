package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	s3blob "github.com/alanyoungcy/matrixnet/internal/blob/s3"
	"github.com/alanyoungcy/matrixnet/internal/config"
	"github.com/alanyoungcy/matrixnet/internal/domain"
)

func newArchiveCmd(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect exported history in the archive bucket",
	}
	cmd.AddCommand(newArchiveListCmd(env), newArchiveGetCmd(env))
	return cmd
}

func (e *cliEnv) blobs(cmd *cobra.Command) (domain.BlobReader, error) {
	cfg, err := config.Load(*e.configPath)
	if err != nil {
		return nil, err
	}
	return s3blob.New(cmd.Context(), s3blob.ClientConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		Prefix:         cfg.S3.Prefix,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		UseSSL:         cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
}

func newArchiveListCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [ledger|instances]",
		Short: "List archive files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := "archive/"
			if len(args) == 1 {
				prefix += args[0] + "/"
			}
			blobs, err := env.blobs(cmd)
			if err != nil {
				return err
			}
			infos, err := blobs.List(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			printBlobs(cmd.OutOrStdout(), infos)
			return nil
		},
	}
}

func printBlobs(w io.Writer, infos []domain.BlobInfo) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tSIZE\tMODIFIED")
	for _, info := range infos {
		modified := "-"
		if !info.LastModified.IsZero() {
			modified = info.LastModified.UTC().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", info.Path, info.Size, modified)
	}
	_ = tw.Flush()
}

func newArchiveGetCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Print an archive file as JSONL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blobs, err := env.blobs(cmd)
			if err != nil {
				return err
			}
			body, err := blobs.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer body.Close()
			_, err = io.Copy(cmd.OutOrStdout(), body)
			return err
		},
	}
}
