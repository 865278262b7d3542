package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alphabot-ai/tiredd/internal/client"
)

const defaultBaseURL = "http://localhost:8090"

// CLIConfig is the client state persisted in ~/.tiredd/config.json.
type CLIConfig struct {
	BaseURL    string `json:"base_url"`
	Username   string `json:"username,omitempty"`
	Token      string `json:"token,omitempty"`
	TokenExp   string `json:"token_expires,omitempty"`
	PublicKey  string `json:"public_key,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
}

func newClientCommands() []*cobra.Command {
	return []*cobra.Command{
		newLoginCommand(),
		newLogoutCommand(),
		newWhoamiCommand(),
		newKeyCommand(),
		newPostCommand(),
		newCommentCommand(),
		newVoteCommand(),
		newReadCommand(),
	}
}

func newLoginCommand() *cobra.Command {
	var url, user, password string
	var withKey bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session token",
		Long: `Log in with a username and password. Unknown usernames are registered on
first login when the server allows it. With --key the stored keypair is used
instead (see "tiredd key").`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := loadCLIConfig()
			if url != "" {
				cfg.BaseURL = strings.TrimSuffix(url, "/")
			}
			if cfg.BaseURL == "" {
				cfg.BaseURL = defaultBaseURL
			}
			c := client.New(cfg.BaseURL)

			var (
				account client.Account
				err     error
			)
			if withKey {
				creds, cerr := credentials(cfg)
				if cerr != nil {
					return cerr
				}
				account, err = c.LoginWithKey(cmd.Context(), creds)
			} else {
				if user == "" {
					return errors.New("--user is required")
				}
				if password == "" {
					password = os.Getenv("TIREDD_PASSWORD")
				}
				account, err = c.Login(cmd.Context(), user, password)
			}
			if err != nil {
				return err
			}
			cfg.Username = account.Username
			cfg.Token = c.Token
			cfg.TokenExp = c.TokenExp.Format(time.RFC3339)
			if err := saveCLIConfig(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Logged in as %s (session expires %s)\n", account.Username, cfg.TokenExp)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "server URL (default "+defaultBaseURL+")")
	cmd.Flags().StringVar(&user, "user", "", "username")
	cmd.Flags().StringVar(&password, "password", "", "password (or TIREDD_PASSWORD)")
	cmd.Flags().BoolVar(&withKey, "key", false, "log in with the stored keypair")
	return cmd
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, c, err := loadAuthenticatedClient()
			if err != nil {
				return err
			}
			if err := c.Logout(cmd.Context()); err != nil {
				return err
			}
			cfg.Token, cfg.TokenExp = "", ""
			if err := saveCLIConfig(cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Logged out")
			return nil
		},
	}
}

func newWhoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "whoami",
		Aliases: []string{"status"},
		Short:   "Show the account behind the stored session",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, c, err := loadAuthenticatedClient()
			if err != nil {
				return err
			}
			sess, account, err := c.ReadSession(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Server:  %s\n", cfg.BaseURL)
			fmt.Fprintf(out, "Account: %s (%s)\n", account.Username, account.ID)
			fmt.Fprintf(out, "Expires: %s\n", sess.Expires.Format(time.RFC3339))
			return nil
		},
	}
}

func newKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "key",
		Short: "Generate an ed25519 keypair and attach it to the logged in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, c, err := loadAuthenticatedClient()
			if err != nil {
				return err
			}
			creds, err := client.GenerateCredentials()
			if err != nil {
				return err
			}
			if err := c.AddKey(cmd.Context(), creds); err != nil {
				return err
			}
			cfg.PublicKey = creds.PublicKey
			cfg.PrivateKey = base64.StdEncoding.EncodeToString(creds.PrivateKey)
			if err := saveCLIConfig(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Key attached: %s\n", creds.PublicKey)
			return nil
		},
	}
}

func newPostCommand() *cobra.Command {
	var in client.NewPost
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Submit a post",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, err := loadAuthenticatedClient()
			if err != nil {
				return err
			}
			post, err := c.CreatePost(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Posted to %s: %s\n", post.Sub, post.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Sub, "sub", "", "sub to post in (required)")
	cmd.Flags().StringVar(&in.Title, "title", "", "title")
	cmd.Flags().StringVar(&in.URL, "url", "", "link")
	cmd.Flags().StringVar(&in.Content, "text", "", "body text")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

func newCommentCommand() *cobra.Command {
	var postID, parent, text string
	cmd := &cobra.Command{
		Use:   "comment",
		Short: "Comment on a post",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, err := loadAuthenticatedClient()
			if err != nil {
				return err
			}
			var parentID *string
			if parent != "" {
				parentID = &parent
			}
			comment, err := c.CreateComment(cmd.Context(), postID, parentID, text)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Commented: %s\n", comment.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&postID, "post", "", "post id (required)")
	cmd.Flags().StringVar(&parent, "parent", "", "parent comment id")
	cmd.Flags().StringVar(&text, "text", "", "comment text (required)")
	_ = cmd.MarkFlagRequired("post")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func newVoteCommand() *cobra.Command {
	var postID, commentID string
	var down bool
	cmd := &cobra.Command{
		Use:   "vote",
		Short: "Upvote (default) or downvote a post or comment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, id := "post", postID
			if commentID != "" {
				kind, id = "comment", commentID
			}
			if id == "" {
				return errors.New("one of --post or --comment is required")
			}
			_, c, err := loadAuthenticatedClient()
			if err != nil {
				return err
			}
			score, err := c.Vote(cmd.Context(), kind, id, !down)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Voted. Score %d (+%d/-%d)\n", score.Score, score.Upvotes, score.Downvotes)
			return nil
		},
	}
	cmd.Flags().StringVar(&postID, "post", "", "post id")
	cmd.Flags().StringVar(&commentID, "comment", "", "comment id")
	cmd.Flags().BoolVar(&down, "down", false, "downvote instead of upvote")
	cmd.MarkFlagsMutuallyExclusive("post", "comment")
	return cmd
}

func newReadCommand() *cobra.Command {
	var q client.PostQuery
	var postID string
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read a feed, or one post with its comments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := loadCLIConfig()
			if cfg.BaseURL == "" {
				cfg.BaseURL = defaultBaseURL
			}
			c := client.New(cfg.BaseURL)
			out := cmd.OutOrStdout()

			if postID != "" {
				post, err := c.GetPost(cmd.Context(), postID)
				if err != nil {
					return err
				}
				tree, err := c.CommentTree(cmd.Context(), postID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "\n%s  [%s]\n", post.Title, post.Sub)
				fmt.Fprintf(out, "  %d pts | %d comments | by %s\n", post.Score.Score, post.CommentCount, post.UserName)
				if post.URL != "" {
					fmt.Fprintf(out, "  %s\n", post.URL)
				}
				if post.Content != "" {
					fmt.Fprintf(out, "\n  %s\n", post.Content)
				}
				printTree(out, tree, 1)
				return nil
			}

			posts, err := c.ListPosts(cmd.Context(), q)
			if err != nil {
				return err
			}
			label := q.Mode
			if label == "" {
				label = "all"
			}
			fmt.Fprintf(out, "\ntiredd (%s)\n\n", label)
			for i, p := range posts {
				fmt.Fprintf(out, "%d. %s  [%s]\n", i+1, displayTitle(p), p.Sub)
				fmt.Fprintf(out, "   %d pts | %d comments | by %s | %s\n\n", p.Score.Score, p.CommentCount, p.UserName, p.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&q.Sub, "sub", "", "only this sub")
	cmd.Flags().StringVar(&q.Mode, "mode", "hot", "hot or new; empty lists everything")
	cmd.Flags().IntVar(&q.Limit, "limit", 20, "number of posts")
	cmd.Flags().StringVar(&postID, "post", "", "show one post with comments")
	return cmd
}

func printTree(out io.Writer, nodes []client.CommentNode, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, n := range nodes {
		fmt.Fprintf(out, "%s[%d] %s: %s\n", indent, n.Score.Score, n.UserName, n.Content)
		printTree(out, n.Children, depth+1)
	}
}

func displayTitle(p client.Post) string {
	switch {
	case p.Title != "":
		return p.Title
	case p.URL != "":
		return p.URL
	}
	if len(p.Content) > 60 {
		return p.Content[:60] + "..."
	}
	return p.Content
}

func cliConfigPath() string {
	if p := os.Getenv("TIREDD_CLI_CONFIG"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tiredd", "config.json")
}

func loadCLIConfig() (CLIConfig, error) {
	data, err := os.ReadFile(cliConfigPath())
	if err != nil {
		return CLIConfig{}, errors.New("not logged in - run 'tiredd login'")
	}
	var cfg CLIConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return CLIConfig{}, err
	}
	return cfg, nil
}

func saveCLIConfig(cfg CLIConfig) error {
	path := cliConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, _ := json.MarshalIndent(cfg, "", "  ")
	return os.WriteFile(path, data, 0600)
}

func credentials(cfg CLIConfig) (*client.Credentials, error) {
	if cfg.PrivateKey == "" {
		return nil, errors.New("no keypair stored - run 'tiredd key' while logged in")
	}
	return client.CredentialsFromKeys(cfg.PublicKey, cfg.PrivateKey)
}

func loadAuthenticatedClient() (CLIConfig, *client.Client, error) {
	cfg, err := loadCLIConfig()
	if err != nil {
		return CLIConfig{}, nil, err
	}
	if cfg.Token == "" {
		return CLIConfig{}, nil, errors.New("not logged in - run 'tiredd login'")
	}
	exp, _ := time.Parse(time.RFC3339, cfg.TokenExp)
	if !exp.IsZero() && time.Now().After(exp) {
		return CLIConfig{}, nil, errors.New("session expired - run 'tiredd login'")
	}
	c := client.New(cfg.BaseURL)
	c.Token = cfg.Token
	c.TokenExp = exp
	return cfg, c, nil
}
