package cli

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/olekukonko/tablewriter"
	"github.com/opencontainers/go-digest"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/imilosk/blobstore/log"
	"github.com/imilosk/blobstore/storage"
	"github.com/imilosk/blobstore/storage/s3"
	"github.com/imilosk/blobstore/version"
)

const (
	statConcurrency    = 8
	defaultContentType = "application/octet-stream"
)

// ParseCmd splits object addresses into bucket and key.
var ParseCmd = &cobra.Command{
	Use:   "parse <uri>...",
	Short: "`parse` splits object addresses into bucket and key",
	Long:  "`parse` splits s3://, virtual-hosted-style and path-style object addresses into bucket and key",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var errs *multierror.Error

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.Header([]string{"Address", "Bucket", "Key"})

		for _, uri := range args {
			addr, err := storage.ParseAddress(uri)
			if err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			if tableErr := table.Append([]string{uri, addr.Bucket, addr.Key}); tableErr != nil {
				return fmt.Errorf("failed to append row: %w", tableErr)
			}
		}

		if tableErr := table.Render(); tableErr != nil {
			return fmt.Errorf("failed to render table: %w", tableErr)
		}

		return errs.ErrorOrNil()
	},
}

// SignCmd prints a SigV4-signed request for an object without sending it.
var SignCmd = &cobra.Command{
	Use:   "sign <uri>",
	Short: "`sign` prints a signed request for an object",
	Long:  "`sign` prints the URL and the SigV4-signed headers of a request for an object, one `Name: value` per line, without sending it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup(cmd)
		if err != nil {
			return err
		}
		defer env.close()

		addr, err := storage.ParseAddress(args[0])
		if err != nil {
			return err
		}

		clk := clock.New()
		if signTime != "" {
			t, err := time.Parse(time.RFC3339, signTime)
			if err != nil {
				return fmt.Errorf("parsing signing time: %w", err)
			}
			mock := clock.NewMock()
			mock.Set(t)
			clk = mock
		}

		b, err := s3.NewRequestBuilder(env.config.Storage, clk)
		if err != nil {
			return err
		}
		b.WithAddress(addr).
			WithVersionID(storage.NewVersionID(versionID)).
			WithMethod(strings.ToUpper(method))

		for _, h := range headers {
			name, value, ok := strings.Cut(h, ":")
			if !ok || strings.TrimSpace(name) == "" {
				return fmt.Errorf("invalid header %q, expected name:value", h)
			}
			b.WithHeader(strings.TrimSpace(name), strings.TrimSpace(value))
		}
		b.Sign()

		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "%s %s\n", strings.ToUpper(method), b.URL())

		header := b.Header()
		names := make([]string, 0, len(header))
		for name := range header {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			_, _ = fmt.Fprintf(out, "%s: %s\n", name, header.Get(name))
		}

		return nil
	},
}

// GetCmd downloads an object.
var GetCmd = &cobra.Command{
	Use:   "get <uri> [destination]",
	Short: "`get` downloads an object",
	Long:  "`get` downloads an object to destination, or to stdout when no destination is given",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup(cmd)
		if err != nil {
			return err
		}
		defer env.close()

		st, err := env.storage()
		if err != nil {
			return err
		}

		addr, err := storage.ParseAddress(args[0])
		if err != nil {
			return err
		}

		var verifier digest.Verifier
		if verifyDigest != "" {
			d, err := digest.Parse(verifyDigest)
			if err != nil {
				return fmt.Errorf("parsing digest: %w", err)
			}
			verifier = d.Verifier()
		}

		req := storage.NewVersionedDownloadRequest(addr, storage.NewVersionID(versionID))
		result, err := st.OpenDownload(env.ctx, req)
		if err != nil {
			return fmt.Errorf("failed to download %s: %w", addr, err)
		}
		defer result.Body.Close()

		var body io.Reader = result.Body
		if showProgress {
			bar := newProgressBar(result.Metadata.Size, "downloading "+addr.String(), cmd.ErrOrStderr())
			defer finishProgressBar(bar)
			body = io.TeeReader(body, bar)
		}
		if verifier != nil {
			body = io.TeeReader(body, verifier)
		}

		var content io.Reader = body
		if decompress {
			decompressed, typ, err := spoolDecompressed(body)
			if err != nil {
				return fmt.Errorf("failed to decompress %s: %w", addr, err)
			}
			defer decompressed.Close()

			if verifier != nil && !verifier.Verified() {
				return fmt.Errorf("content of %s does not match digest %s", addr, verifyDigest)
			}
			env.logger.WithField("compression", typ.String()).Debug("decompressing object")
			content = decompressed
		}

		var written int64
		if len(args) == 2 {
			written, err = writeFile(args[1], content, func() error {
				if verifier != nil && !verifier.Verified() {
					return fmt.Errorf("content of %s does not match digest %s", addr, verifyDigest)
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to write %s: %w", addr, err)
			}
		} else {
			written, err = io.Copy(cmd.OutOrStdout(), content)
			if err != nil {
				return fmt.Errorf("failed to write %s: %w", addr, err)
			}
			if verifier != nil && !verifier.Verified() {
				return fmt.Errorf("content of %s does not match digest %s", addr, verifyDigest)
			}
		}

		env.logger.WithFields(log.Fields{
			"address":    addr.String(),
			"etag":       result.Metadata.ETag,
			"version_id": result.Metadata.VersionID.String(),
			"written":    written,
		}).Info("object downloaded")

		return nil
	},
}

// StatCmd prints object metadata.
var StatCmd = &cobra.Command{
	Use:   "stat <uri>...",
	Short: "`stat` prints object metadata",
	Long:  "`stat` prints the ETag, size and version of objects",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup(cmd)
		if err != nil {
			return err
		}
		defer env.close()

		st, err := env.storage()
		if err != nil {
			return err
		}

		addrs := make([]storage.Address, len(args))
		for i, uri := range args {
			addrs[i], err = storage.ParseAddress(uri)
			if err != nil {
				return err
			}
		}

		v := storage.NewVersionID(versionID)
		metas := make([]storage.ObjectMetadata, len(addrs))

		g, ctx := errgroup.WithContext(env.ctx)
		g.SetLimit(statConcurrency)
		for i, addr := range addrs {
			i, addr := i, addr
			g.Go(func() error {
				meta, err := st.ObjectMetadata(ctx, storage.NewVersionedDownloadRequest(addr, v))
				if err != nil {
					return err
				}
				metas[i] = meta
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("failed to stat objects: %w", err)
		}

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.Header([]string{"Address", "ETag", "Size", "Version"})
		for i, meta := range metas {
			row := []string{addrs[i].String(), meta.ETag, strconv.FormatInt(meta.Size, 10), meta.VersionID.String()}
			if tableErr := table.Append(row); tableErr != nil {
				return fmt.Errorf("failed to append row: %w", tableErr)
			}
		}
		if tableErr := table.Render(); tableErr != nil {
			return fmt.Errorf("failed to render table: %w", tableErr)
		}

		return nil
	},
}

// PutCmd uploads a file, or stdin when the file is "-".
var PutCmd = &cobra.Command{
	Use:   "put <file|-> <uri>",
	Short: "`put` uploads a file",
	Long:  "`put` uploads a file, or stdin when the file is \"-\", to an object",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup(cmd)
		if err != nil {
			return err
		}
		defer env.close()

		st, err := env.storage()
		if err != nil {
			return err
		}

		src := args[0]
		addr, err := storage.ParseAddress(args[1])
		if err != nil {
			return err
		}
		if addr.Key == "" {
			return fmt.Errorf("%s does not name an object", addr)
		}

		ct := contentType
		if ct == "" && src != "-" {
			ct = mime.TypeByExtension(filepath.Ext(src))
		}
		if ct == "" {
			ct = defaultContentType
		}

		var (
			result storage.UploadResult
			dgst   digest.Digest
		)
		if src == "-" || showProgress {
			result, dgst, err = uploadStream(cmd, env, st, src, addr, ct)
		} else {
			result, dgst, err = uploadFile(env, st, src, addr, ct)
		}
		if err != nil {
			return fmt.Errorf("failed to upload to %s: %w", addr, err)
		}
		if !result.Success {
			return fmt.Errorf("upload to %s did not complete, check that bucket %q exists", addr, addr.Bucket)
		}

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.Header([]string{"Address", "ETag", "Size", "Digest"})
		if tableErr := table.Append([]string{addr.String(), result.ETag, strconv.FormatInt(result.Size, 10), dgst.String()}); tableErr != nil {
			return fmt.Errorf("failed to append row: %w", tableErr)
		}
		if tableErr := table.Render(); tableErr != nil {
			return fmt.Errorf("failed to render table: %w", tableErr)
		}

		return nil
	},
}

func uploadStream(cmd *cobra.Command, env *environment, st storage.BlobStorage, src string, addr storage.Address, ct string) (storage.UploadResult, digest.Digest, error) {
	var (
		r    io.Reader
		size int64 = -1
	)
	if src == "-" {
		r = cmd.InOrStdin()
	} else {
		// nolint: gosec
		f, err := os.Open(src)
		if err != nil {
			return storage.UploadFailed, "", err
		}
		defer f.Close()

		fi, err := f.Stat()
		if err != nil {
			return storage.UploadFailed, "", err
		}
		size = fi.Size()
		r = f
	}

	digester := digest.Canonical.Digester()
	r = io.TeeReader(r, digester.Hash())

	if showProgress {
		bar := newProgressBar(size, "uploading "+addr.String(), cmd.ErrOrStderr())
		defer finishProgressBar(bar)
		r = io.TeeReader(r, bar)
	}

	result, err := st.UploadStream(env.ctx, addr.Bucket, addr.Key, ct, r, size)
	if err != nil {
		return result, "", err
	}
	return result, digester.Digest(), nil
}

func uploadFile(env *environment, st storage.BlobStorage, src string, addr storage.Address, ct string) (storage.UploadResult, digest.Digest, error) {
	// nolint: gosec
	f, err := os.Open(src)
	if err != nil {
		return storage.UploadFailed, "", err
	}
	dgst, err := digest.FromReader(f)
	_ = f.Close()
	if err != nil {
		return storage.UploadFailed, "", fmt.Errorf("computing digest of %q: %w", src, err)
	}

	result, err := st.UploadFile(env.ctx, addr.Bucket, addr.Key, ct, src)
	if err != nil {
		return result, "", err
	}
	return result, dgst, nil
}

// PresignCmd prints a presigned URI for an object.
var PresignCmd = &cobra.Command{
	Use:   "presign <uri>",
	Short: "`presign` prints a time-limited URI for an object",
	Long:  "`presign` prints a time-limited URI for an object, served from the Redis URL cache when enabled",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup(cmd)
		if err != nil {
			return err
		}
		defer env.close()

		st, err := env.storage()
		if err != nil {
			return err
		}

		sharer, release, err := env.sharer(st)
		if err != nil {
			return err
		}
		defer release()

		addr, err := storage.ParseAddress(args[0])
		if err != nil {
			return err
		}

		result, err := sharer.SharedFileURI(env.ctx, addr.Bucket, addr.Key, contentType)
		if err != nil {
			return fmt.Errorf("failed to presign %s: %w", addr, err)
		}
		if !result.Success {
			return fmt.Errorf("failed to presign %s, check that bucket %q exists", addr, addr.Bucket)
		}

		_, _ = fmt.Fprintln(cmd.OutOrStdout(), result.PresignedURI)
		return nil
	},
}

// MakeBucketCmd creates a bucket.
var MakeBucketCmd = &cobra.Command{
	Use:   "mb <bucket>",
	Short: "`mb` creates a bucket unless it exists",
	Long:  "`mb` creates a bucket unless it exists, and optionally enables versioning on it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup(cmd)
		if err != nil {
			return err
		}
		defer env.close()

		st, err := env.storage()
		if err != nil {
			return err
		}

		bucket := args[0]
		if err := st.CreateBucketIfNotExists(env.ctx, bucket); err != nil {
			return err
		}
		if versioning {
			if err := st.EnableBucketVersioning(env.ctx, bucket); err != nil {
				if errors.Is(err, storage.ErrBucketNotFound) {
					return fmt.Errorf("bucket %q vanished before versioning could be enabled: %w", bucket, err)
				}
				return err
			}
		}

		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "bucket %q ready\n", bucket)
		return nil
	},
}

// VersionCmd prints the version of blobctl.
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "`version` prints the version and exits",
	Long:  "`version` prints the version and exits",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		version.FprintVersion(cmd.OutOrStdout())
		return nil
	},
}
