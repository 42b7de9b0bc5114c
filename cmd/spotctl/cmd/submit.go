package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/spotdl-api/pkg/models"
)

var (
	format     string
	quality    string
	outputFile string
	saveFile   string
	waitJob    bool
)

var linkCmd = &cobra.Command{
	Use:   "link <source-url>",
	Short: "Download a track now and print a temporary download link",
	Long: `Ask the server to download a single track synchronously and return a
temporary link to the audio file. Repeated requests within the cache TTL
return the cached file.`,
	Args: cobra.ExactArgs(1),
	RunE: runLink,
}

var urlCmd = &cobra.Command{
	Use:   "url <source-url>",
	Short: "Resolve the direct audio URL without downloading",
	Args:  cobra.ExactArgs(1),
	RunE:  runURL,
}

// job submission commands share one runner keyed by kind
var jobCmds = []struct {
	kind  models.JobKind
	path  string
	use   string
	short string
	args  cobra.PositionalArgs
}{
	{models.KindTrack, "/download/track", "track <source-url>", "Download a single track in the background", cobra.ExactArgs(1)},
	{models.KindPlaylist, "/download/playlist", "playlist <source-url>", "Download a whole playlist or album in the background", cobra.ExactArgs(1)},
	{models.KindSave, "/save/metadata", "save <query>", "Save track metadata to a .spotdl file", cobra.ExactArgs(1)},
	{models.KindURLs, "/get/urls", "urls <query>", "Collect direct download URLs into a text file", cobra.ExactArgs(1)},
	{models.KindSync, "/sync/playlist", "sync <query>", "Sync a playlist against a .spotdl file", cobra.ExactArgs(1)},
	{models.KindMeta, "/update/metadata", "meta <path>...", "Update tags of files already on the server", cobra.MinimumNArgs(1)},
}

func init() {
	rootCmd.AddCommand(linkCmd, urlCmd)
	for _, c := range []*cobra.Command{linkCmd, urlCmd} {
		c.Flags().StringVar(&format, "format", models.DefaultFormat, "audio format (mp3, m4a, opus, flac, ogg, wav)")
		c.Flags().StringVar(&quality, "quality", models.DefaultQuality, "audio quality")
	}

	for _, jc := range jobCmds {
		jc := jc
		c := &cobra.Command{
			Use:   jc.use,
			Short: jc.short,
			Args:  jc.args,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSubmit(cmd, jc.kind, jc.path, args)
			},
		}
		switch jc.kind {
		case models.KindTrack, models.KindPlaylist:
			c.Flags().StringVar(&format, "format", models.DefaultFormat, "audio format")
			c.Flags().StringVar(&quality, "quality", models.DefaultQuality, "audio quality")
			c.Flags().StringVar(&outputFile, "output-file", "", "save a .spotdl metadata file alongside the download")
		case models.KindSync:
			c.Flags().StringVar(&format, "format", models.DefaultFormat, "audio format")
			c.Flags().StringVar(&quality, "quality", models.DefaultQuality, "audio quality")
			c.Flags().StringVar(&saveFile, "save-file", models.DefaultSaveFile, "name of the sync state file")
		case models.KindSave:
			c.Flags().StringVar(&saveFile, "save-file", models.DefaultSaveFile, "name of the metadata file")
		}
		c.Flags().BoolVar(&waitJob, "wait", false, "follow the job until it finishes")
		rootCmd.AddCommand(c)
	}
}

func buildJobRequest(kind models.JobKind, args []string) models.JobRequest {
	req := models.JobRequest{Format: format, Quality: quality}
	switch kind {
	case models.KindTrack, models.KindPlaylist:
		req.SourceURL = args[0]
		req.OutputFile = outputFile
	case models.KindSave, models.KindSync:
		req.Query = args[0]
		req.SaveFile = saveFile
	case models.KindURLs:
		req.Query = args[0]
	case models.KindMeta:
		req.Paths = args
	}
	return req
}

func runSubmit(cmd *cobra.Command, kind models.JobKind, path string, args []string) error {
	var sub models.JobSubmitted
	if err := doJSON("POST", path, buildJobRequest(kind, args), &sub); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if IsJSONOutput() && !waitJob {
		return printJSON(out, sub)
	}
	if !IsJSONOutput() {
		table := tablewriter.NewWriter(out)
		table.Header("Field", "Value")
		table.Append("Task ID", sub.TaskID)
		table.Append("Kind", string(sub.Kind))
		table.Append("Status", string(sub.Status))
		table.Render()
		if sub.Message != "" {
			fmt.Fprintf(out, "\n%s\n", sub.Message)
		}
	}

	if waitJob {
		return followJob(cmd, sub.TaskID)
	}
	return nil
}

func runLink(cmd *cobra.Command, args []string) error {
	var link models.DownloadLink
	req := models.LinkRequest{SourceURL: args[0], Format: format, Quality: quality}
	if err := doJSON("POST", "/get/audio-download-link", req, &link); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if IsJSONOutput() {
		return printJSON(out, link)
	}
	printLink(out, link)
	return nil
}

func printLink(out io.Writer, link models.DownloadLink) {
	table := tablewriter.NewWriter(out)
	table.Header("Field", "Value")
	table.Append("Filename", link.Filename)
	table.Append("Size", humanize.Bytes(uint64(link.FileSize)))
	table.Append("Format", link.Format)
	table.Append("Quality", link.Quality)
	table.Append("Cached", strconv.FormatBool(link.Cached))
	table.Append("Link", link.DownloadURL)
	table.Render()
	if link.Note != "" {
		fmt.Fprintf(out, "\n%s\n", link.Note)
	}
}

func runURL(cmd *cobra.Command, args []string) error {
	var res models.ResolvedURL
	req := models.LinkRequest{SourceURL: args[0], Format: format, Quality: quality}
	if err := doJSON("POST", "/get/download-link", req, &res); err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(cmd.OutOrStdout(), res)
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.DownloadURL)
	return nil
}
