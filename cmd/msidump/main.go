// Command msidump inspects Windows Installer packages: streams, tables,
// the resolved directory layout, and embedded cabinet payloads.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/marcinotorowski/go-msi"
)

func main() {
	cmd := &cli.Command{
		Name:  "msidump",
		Usage: "Inspect Windows Installer packages",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
				Sources: cli.EnvVars("MSIDUMP_VERBOSE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "info",
				Usage:     "Summarize the package",
				ArgsUsage: "<package.msi>",
				Action:    runInfo,
			},
			{
				Name:      "streams",
				Usage:     "List the package's streams",
				ArgsUsage: "<package.msi>",
				Action:    runStreams,
			},
			{
				Name:      "tables",
				Usage:     "List tables with their column signatures",
				ArgsUsage: "<package.msi>",
				Action:    runTables,
			},
			{
				Name:      "dump",
				Usage:     "Print a table's rows",
				ArgsUsage: "<package.msi> <table>",
				Action:    runDump,
			},
			{
				Name:      "dirs",
				Usage:     "Print the resolved directory layout",
				ArgsUsage: "<package.msi>",
				Action:    runDirs,
			},
			{
				Name:      "extract",
				Usage:     "Extract embedded cabinet members",
				ArgsUsage: "<package.msi>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output directory",
						Value:   ".",
					},
				},
				Action: runExtract,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("msidump failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func openPackage(cmd *cli.Command) (*msi.Package, error) {
	path := cmd.Args().First()
	if path == "" {
		return nil, fmt.Errorf("missing package argument")
	}
	var opts []msi.Option
	if cmd.Bool("verbose") {
		opts = append(opts, msi.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))))
	}
	return msi.Open(path, opts...)
}

func runInfo(ctx context.Context, cmd *cli.Command) error {
	p, err := openPackage(cmd)
	if err != nil {
		return err
	}
	defer p.Close()

	streams := p.Streams()
	var total uint64
	tableStreams := 0
	for _, s := range streams {
		total += s.Size
		if s.Table {
			tableStreams++
		}
	}
	fmt.Printf("sector size: %d\n", p.SectorSize())
	fmt.Printf("streams:     %d (%s)\n", len(streams), humanize.IBytes(total))

	names, err := p.TableNames()
	if err != nil {
		return err
	}
	fmt.Printf("tables:      %d cataloged, %d with rows\n", len(names), tableStreams)

	pool, err := p.Strings()
	if err != nil {
		return err
	}
	fmt.Printf("strings:     %d (codepage %d)\n", pool.Len(), pool.Codepage())

	media, err := p.Media()
	if err == nil {
		for _, m := range media {
			where := "external"
			if m.IsEmbedded() {
				where = "embedded"
			}
			if !m.HasCabinet() {
				where = "loose files"
			}
			fmt.Printf("media %d:     %s %s\n", m.DiskID, m.Cabinet, where)
		}
	}
	return nil
}

func runStreams(ctx context.Context, cmd *cli.Command) error {
	p, err := openPackage(cmd)
	if err != nil {
		return err
	}
	defer p.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tSIZE")
	for _, s := range p.Streams() {
		kind := "stream"
		if s.Table {
			kind = "table"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, kind, humanize.IBytes(s.Size))
	}
	return w.Flush()
}

func runTables(ctx context.Context, cmd *cli.Command) error {
	p, err := openPackage(cmd)
	if err != nil {
		return err
	}
	defer p.Close()

	tables, err := p.Tables()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tROWS\tCOLUMNS")
	for _, t := range tables {
		sig := ""
		for i, col := range t.Columns() {
			if i > 0 {
				sig += " "
			}
			sig += col.Name + ":" + col.Type.String()
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", t.Name(), t.Len(), sig)
	}
	return w.Flush()
}

func runDump(ctx context.Context, cmd *cli.Command) error {
	p, err := openPackage(cmd)
	if err != nil {
		return err
	}
	defer p.Close()

	name := cmd.Args().Get(1)
	if name == "" {
		return fmt.Errorf("missing table argument")
	}
	t, err := p.Table(name)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for i, col := range t.Columns() {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, col.Name)
	}
	fmt.Fprintln(w)
	for row := range t.Rows() {
		for i, col := range t.Columns() {
			if i > 0 {
				fmt.Fprint(w, "\t")
			}
			cell := row.String(i)
			// Name columns carry combined short|long forms; render them
			// the readable way.
			if col.Name == "DefaultDir" {
				cell = msi.ParseDirectoryName(cell).String()
			}
			fmt.Fprint(w, cell)
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

func runDirs(ctx context.Context, cmd *cli.Command) error {
	p, err := openPackage(cmd)
	if err != nil {
		return err
	}
	defer p.Close()

	tree, err := p.DirectoryTree()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tTARGET\tSOURCE")
	for _, e := range tree.Entries() {
		target, err := tree.TargetPath(e.Key)
		if err != nil {
			return err
		}
		source, err := tree.SourcePath(e.Key)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Key, target, source)
	}
	return w.Flush()
}

func runExtract(ctx context.Context, cmd *cli.Command) error {
	p, err := openPackage(cmd)
	if err != nil {
		return err
	}
	defer p.Close()

	outDir := cmd.String("output")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	media, err := p.Media()
	if err != nil {
		return err
	}
	seen := make(map[string]int)
	for _, m := range media {
		if !m.IsEmbedded() {
			if m.HasCabinet() {
				fmt.Fprintf(os.Stderr, "skipping external cabinet %s\n", m.Cabinet)
			}
			continue
		}
		c, err := p.OpenCabinet(m.Cabinet)
		if err != nil {
			return fmt.Errorf("cabinet %s: %w", m.Cabinet, err)
		}

		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(4)
		for _, f := range c.Files() {
			dest := destPath(outDir, f.Name, seen)
			g.Go(func() error {
				data, err := c.Extract(f.Name)
				if err != nil {
					return fmt.Errorf("extract %s: %w", f.Name, err)
				}
				if err := os.WriteFile(dest, data, 0o644); err != nil {
					return err
				}
				fmt.Printf("%s (%s)\n", dest, humanize.IBytes(uint64(len(data))))
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// destPath flattens a cabinet member name into the output directory,
// numbering repeated base names so members from different folders or
// cabinets never overwrite each other. Cabinet paths use backslashes
// regardless of the host OS.
func destPath(outDir, name string, seen map[string]int) string {
	base := name
	if i := strings.LastIndexAny(base, `\/`); i >= 0 {
		base = base[i+1:]
	}
	n := seen[base]
	seen[base] = n + 1
	if n == 0 {
		return filepath.Join(outDir, base)
	}
	dest := filepath.Join(outDir, fmt.Sprintf("%s.%d", base, n))
	fmt.Fprintf(os.Stderr, "duplicate member name %s, writing %s\n", name, dest)
	return dest
}
