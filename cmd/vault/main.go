package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/memoryvault/client"
	"github.com/memoryvault/client/internal/config"
)

const (
	opTimeout           = 30 * time.Second
	downloadConcurrency = 4
)

type globals struct {
	apiURL string
	debug  bool
}

func main() {
	// A .env next to the binary may carry VAULT_* settings.
	_ = godotenv.Load()

	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		fmt.Fprintln(os.Stderr, "Error:", client.ErrorMessage(err))
		os.Exit(1)
	}
}

// NewRootCmd constructs the root CLI command; exposed for unit testing.
func NewRootCmd() *cobra.Command {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:           "vault",
		Short:         "Memory Vault command line client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.InitConsoleLogger()
			if g.debug {
				config.SetLogLevel(zerolog.DebugLevel)
				log.Debug().Msg("debug logging enabled")
			} else {
				config.SetLogLevel(zerolog.InfoLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&g.apiURL, "api-url", "", "Backend API base URL (default $VAULT_API_URL)")
	rootCmd.PersistentFlags().BoolVarP(&g.debug, "debug", "d", false, "Enable verbose debug output")

	rootCmd.AddCommand(
		newLoginCmd(g),
		newRegisterCmd(g),
		newLogoutCmd(g),
		newWhoamiCmd(g),
		newListCmd(g),
		newFavoritesCmd(g),
		newUploadCmd(g),
		newUpdateCmd(g),
		newDeleteCmd(g),
		newFavoriteCmd(g),
		newDownloadCmd(g),
		newTourCmd(g),
	)
	return rootCmd
}

// open builds a client from VAULT_* settings and resolves the persisted
// session. Callers must Close it.
func open(cmd *cobra.Command, g *globals) (*client.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if g.apiURL != "" {
		cfg.APIURL = g.apiURL
	}
	if lvl, err := config.ParseLevel(cfg.LogLevel); err == nil && !g.debug {
		config.SetLogLevel(lvl)
	}

	c, err := client.New(cfg.APIURL,
		client.WithHTTPTimeout(cfg.HTTPTimeout),
		client.WithStateOptions(cfg.StateOptions()),
		client.WithFavoriteSync(cfg.FavoriteSync),
		client.WithMediaCacheBytes(cfg.MediaCacheBytes),
		client.WithBreaker(cfg.BreakerFailures, cfg.BreakerTimeout),
		client.WithDebugLogging(bool(cfg.Debug) || g.debug),
		client.WithLogger(log.Logger),
	)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opTimeout)
	defer cancel()
	snap := c.Initialize(ctx)
	log.Debug().Str("status", snap.Status.String()).Str("api_url", cfg.APIURL).Msg("session resolved")
	return c, nil
}

// openLoaded is open plus an initial Load, for commands that act on the
// collection.
func openLoaded(cmd *cobra.Command, g *globals) (*client.Client, context.Context, context.CancelFunc, error) {
	c, err := open(cmd, g)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), opTimeout)
	if err := c.Load(ctx); err != nil {
		cancel()
		_ = c.Close()
		return nil, nil, nil, err
	}
	return c, ctx, cancel, nil
}

func printMemory(w io.Writer, m client.Memory) {
	star := " "
	if m.IsFavorite {
		star = "*"
	}
	line := fmt.Sprintf("%s %s\t%s\t%s", star, m.ID, m.Title, m.CreatedAt.Local().Format("2006-01-02 15:04"))
	if len(m.Tags) > 0 {
		line += "\t#" + strings.Join(m.Tags, " #")
	}
	if m.Location != nil {
		line += fmt.Sprintf("\t(%.5f, %.5f)", m.Location.Lat, m.Location.Lng)
	}
	fmt.Fprintln(w, line)
}

// ------------------------------
// Session commands
// ------------------------------

func newLoginCmd(g *globals) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and remember the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open(cmd, g)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opTimeout)
			defer cancel()
			u, err := c.Login(ctx, email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", u.Username, u.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email (required)")
	cmd.Flags().StringVar(&password, "password", os.Getenv("VAULT_PASSWORD"), "Account password (default $VAULT_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newRegisterCmd(g *globals) *cobra.Command {
	var req client.RegisterRequest
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open(cmd, g)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opTimeout)
			defer cancel()
			u, err := c.Register(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Welcome, %s! You are logged in.\n", u.Username)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Username, "username", "", "Display name (required)")
	cmd.Flags().StringVar(&req.Email, "email", "", "Account email (required)")
	cmd.Flags().StringVar(&req.Password, "password", os.Getenv("VAULT_PASSWORD"), "Account password (default $VAULT_PASSWORD)")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open(cmd, g)
			if err != nil {
				return err
			}
			defer c.Close()
			c.Logout()
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newWhoamiCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open(cmd, g)
			if err != nil {
				return err
			}
			defer c.Close()

			u := c.Session().User()
			if u == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Not logged in")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s <%s> (%s)\n", u.Username, u.Email, u.ID)
			return nil
		},
	}
}

// ------------------------------
// Memory commands
// ------------------------------

func newListCmd(g *globals) *cobra.Command {
	var tag string
	var located bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, cancel, err := openLoaded(cmd, g)
			if err != nil {
				return err
			}
			defer c.Close()
			defer cancel()

			out := cmd.OutOrStdout()
			store := c.Memories()
			switch {
			case tag != "":
				for m := range store.Tagged(tag) {
					printMemory(out, m)
				}
			case located:
				for m := range store.Located() {
					printMemory(out, m)
				}
				if b, ok := store.Bounds(); ok {
					fmt.Fprintf(out, "bounds: lat %.5f..%.5f lng %.5f..%.5f\n", b.MinLat, b.MaxLat, b.MinLng, b.MaxLng)
				}
			default:
				for _, m := range store.Memories() {
					printMemory(out, m)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "Only memories with this tag")
	cmd.Flags().BoolVar(&located, "located", false, "Only memories with a location")
	return cmd
}

func newFavoritesCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "favorites",
		Short: "List favorite memories, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, cancel, err := openLoaded(cmd, g)
			if err != nil {
				return err
			}
			defer c.Close()
			defer cancel()

			n := 0
			for m := range c.Favorites() {
				printMemory(cmd.OutOrStdout(), m)
				n++
			}
			if n == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No favorites yet")
			}
			return nil
		},
	}
}

func newUploadCmd(g *globals) *cobra.Command {
	var title, description string
	var tags []string
	var lat, lng float64
	cmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "Upload a new memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			draft := client.MemoryDraft{
				Title:       title,
				Description: description,
				Tags:        tags,
				FileName:    filepath.Base(args[0]),
				File:        f,
			}
			latSet, lngSet := cmd.Flags().Changed("lat"), cmd.Flags().Changed("lng")
			if latSet != lngSet {
				return fmt.Errorf("--lat and --lng must be given together")
			}
			if latSet {
				draft.Location = &client.Location{Lat: lat, Lng: lng}
			}
			draft.Tags = draft.NormalizedTags()

			c, err := open(cmd, g)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opTimeout)
			defer cancel()
			m, err := c.Add(ctx, draft)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Memory created: %s - %s\n", m.ID, m.Title)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Title (required)")
	cmd.Flags().StringVar(&description, "description", "", "Description")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag (repeatable)")
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "Longitude")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newUpdateCmd(g *globals) *cobra.Command {
	var title, description string
	var tags []string
	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Edit a memory's title, description or tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch client.MemoryPatch
			if cmd.Flags().Changed("title") {
				patch.Title = &title
			}
			if cmd.Flags().Changed("description") {
				patch.Description = &description
			}
			if cmd.Flags().Changed("tag") {
				patch.Tags = &tags
			}
			if patch.Empty() {
				return fmt.Errorf("nothing to update: pass --title, --description or --tag")
			}

			c, ctx, cancel, err := openLoaded(cmd, g)
			if err != nil {
				return err
			}
			defer c.Close()
			defer cancel()

			m, err := c.Update(ctx, args[0], patch)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Memory updated: %s - %s\n", m.ID, m.Title)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "New title")
	cmd.Flags().StringVar(&description, "description", "", "New description")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Replacement tags (repeatable)")
	return cmd
}

func newDeleteCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, cancel, err := openLoaded(cmd, g)
			if err != nil {
				return err
			}
			defer c.Close()
			defer cancel()

			outcome, err := c.Remove(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Memory deleted: %s (%s)\n", args[0], outcome)
			return nil
		},
	}
}

func newFavoriteCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "favorite ID",
		Short: "Toggle a memory's favorite mark",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, cancel, err := openLoaded(cmd, g)
			if err != nil {
				return err
			}
			defer c.Close()
			defer cancel()

			fav, err := c.ToggleFavorite(args[0])
			if err != nil {
				return err
			}
			if err := c.AwaitFavoriteSync(ctx, args[0]); err != nil {
				return err
			}
			if fav {
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s to favorites\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from favorites\n", args[0])
			}
			return nil
		},
	}
}

func newDownloadCmd(g *globals) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "download ID [ID...]",
		Short: "Save memory media to files",
		Long:  "Save memory media to files. With one ID, -o names the file; with several, -o names a directory and each file is named after its memory.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open(cmd, g)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opTimeout)
			defer cancel()

			dest := func(id string) string {
				if len(args) == 1 && output != "" {
					return output
				}
				return filepath.Join(output, id)
			}
			if len(args) > 1 && output != "" {
				if err := os.MkdirAll(output, 0o700); err != nil {
					return err
				}
			}

			sizes := make([]int, len(args))
			eg, ctx := errgroup.WithContext(ctx)
			eg.SetLimit(downloadConcurrency)
			for i, id := range args {
				eg.Go(func() error {
					m, err := c.DownloadMedia(ctx, id)
					if err != nil {
						return fmt.Errorf("download %s: %w", id, err)
					}
					sizes[i] = len(m.Data)
					return os.WriteFile(dest(id), m.Data, 0o600)
				})
			}
			if err := eg.Wait(); err != nil {
				return err
			}
			for i, id := range args {
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %d bytes to %s\n", sizes[i], dest(id))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file, or directory for several IDs (default: current directory)")
	return cmd
}

func newTourCmd(g *globals) *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "tour",
		Short: "Show the first-run tour once",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open(cmd, g)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opTimeout)
			defer cancel()
			tour := c.Tour()
			if reset {
				return tour.Reset(ctx)
			}
			show, err := tour.ShouldShow(ctx)
			if err != nil {
				return err
			}
			if !show {
				fmt.Fprintln(cmd.OutOrStdout(), "Tour already seen (use --reset to see it again)")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), tourText)
			return tour.MarkSeen(ctx)
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "Show the tour again next time")
	return cmd
}

const tourText = `Welcome to Memory Vault!
  vault upload PHOTO --title "..."   keep a new memory
  vault list [--tag T] [--located]   browse, newest first
  vault favorite ID                  mark the ones you love
  vault favorites                    see them again
`
