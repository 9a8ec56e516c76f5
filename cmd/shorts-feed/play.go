package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/errgroup"

	"github.com/justestif/go-shorts-feed/internal/client"
	"github.com/justestif/go-shorts-feed/internal/domain"
	"github.com/justestif/go-shorts-feed/internal/identity"
	"github.com/justestif/go-shorts-feed/internal/log"
	"github.com/justestif/go-shorts-feed/internal/playback"
	"github.com/justestif/go-shorts-feed/internal/reconcile"
)

func newPlayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Watch videos from a running server as a headless client",
		Long: "play logs in to a shorts-feed server, resumes the caller's feed and watches --count videos,\n" +
			"sending heartbeats and recording progress the way an interactive client does.",
		RunE: runPlay,
	}
	cmd.Flags().String("server", "http://127.0.0.1:8080", "Server base URL")
	cmd.Flags().String("user", "", "User id sent as "+identity.HeaderUserID+" (development identity)")
	cmd.Flags().String("token-file", "", "OAuth token cache (default: user config dir)")
	cmd.Flags().String("token-url", "", "OAuth token endpoint for the client-credentials flow")
	cmd.Flags().String("client-id", "", "OAuth client id")
	cmd.Flags().String("client-secret", "", "OAuth client secret")
	cmd.Flags().Int("count", 10, "Number of videos to watch")
	cmd.Flags().Duration("watch", time.Second, "Time spent on each video")
	cmd.Flags().Bool("like", false, "Like every watched video")
	cmd.Flags().Duration("heartbeat", client.DefaultHeartbeatInterval, "Heartbeat interval")
	return cmd
}

func playTokenSource(cmd *cobra.Command) (oauth2.TokenSource, error) {
	tokenFile, _ := cmd.Flags().GetString("token-file")
	tokenURL, _ := cmd.Flags().GetString("token-url")
	if tokenFile == "" && tokenURL == "" {
		return nil, nil
	}

	cache := client.NewTokenCache(tokenFile)
	if tokenFile == "" {
		var err error
		if cache, err = client.DefaultTokenCache(); err != nil {
			return nil, err
		}
	}

	var src oauth2.TokenSource
	if tokenURL != "" {
		id, _ := cmd.Flags().GetString("client-id")
		secret, _ := cmd.Flags().GetString("client-secret")
		cc := &clientcredentials.Config{ClientID: id, ClientSecret: secret, TokenURL: tokenURL}
		src = cc.TokenSource(cmd.Context())
	}
	return client.CachedTokenSource(cache, src)
}

func runPlay(cmd *cobra.Command, _ []string) error {
	log.Configure(log.Config{Output: cmd.ErrOrStderr()})
	logger := log.WithComponent("play")

	server, _ := cmd.Flags().GetString("server")
	user, _ := cmd.Flags().GetString("user")
	count, _ := cmd.Flags().GetInt("count")
	dwell, _ := cmd.Flags().GetDuration("watch")
	like, _ := cmd.Flags().GetBool("like")
	heartbeat, _ := cmd.Flags().GetDuration("heartbeat")

	ts, err := playTokenSource(cmd)
	if err != nil {
		return fmt.Errorf("token source: %w", err)
	}
	headers := http.Header{}
	if user != "" {
		headers.Set(identity.HeaderUserID, user)
	}
	c, err := client.NewClient(client.Config{BaseURL: server, TokenSource: ts, Headers: headers})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	sessionID, rec, err := c.Login(ctx)
	if err != nil {
		return err
	}
	logger.Info().Str("user_id", rec.ID).Str("session_id", sessionID).Msg("logged in")
	defer func() {
		if err := c.Logout(context.Background(), sessionID); err != nil {
			logger.Warn().Err(err).Msg("logout failed")
		}
	}()

	entries, err := c.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.New("catalog is empty")
	}
	feed := playback.NewFeed(entries, c)
	if err := feed.Resume(ctx, rec.CurrentSessionOrder, string(rec.LastVideoID)); err != nil {
		logger.Warn().Err(err).Msg("resuming feed")
	}

	layer := reconcile.New(c, reconcile.WithFailureHandler(func(f reconcile.Failure) {
		logger.Warn().Err(f.Err).Str("video_id", f.VideoID).Str("action", string(f.Action)).Msg("reaction rolled back")
	}))
	if err := layer.Refresh(ctx); err != nil {
		logger.Warn().Err(err).Msg("loading reactions")
	}

	g, gctx := errgroup.WithContext(ctx)
	playCtx, stopPlay := context.WithCancel(gctx)
	defer stopPlay()

	g.Go(func() error { return c.KeepAlive(playCtx, sessionID, heartbeat) })
	g.Go(func() error {
		layer.Run(playCtx, reconcile.DefaultRefreshInterval)
		return nil
	})
	watched := 0
	g.Go(func() error {
		defer stopPlay()
		var err error
		watched, err = watchFeed(playCtx, cmd.OutOrStdout(), feed, layer, count, dwell, like)
		return err
	})

	err = g.Wait()
	layer.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	v := layer.View()
	fmt.Fprintf(cmd.OutOrStdout(), "Watched %d video(s), %d cycle(s); likes=%d favorites=%d\n",
		watched, feed.Cycles(), len(v.Sets.Likes), len(v.Sets.Favorites))
	return err
}

func watchFeed(ctx context.Context, out io.Writer, feed *playback.Feed, layer *reconcile.Layer, count int, dwell time.Duration, like bool) (int, error) {
	logger := log.WithComponent("play")
	for i := 0; i < count; i++ {
		cur, ok := feed.Current()
		if !ok {
			return i, errors.New("catalog is empty")
		}
		fmt.Fprintf(out, "%3d  %s  %s\n", i+1, cur.Filename, cur.Title)

		select {
		case <-ctx.Done():
			return i, ctx.Err()
		case <-time.After(dwell):
		}

		if _, err := feed.Watched(ctx, int(dwell.Seconds())); err != nil {
			logger.Warn().Err(err).Str("video_id", cur.Filename).Msg("recording watch")
		}
		if like {
			// Resolution is observed through the failure handler.
			_ = layer.Apply(ctx, domain.ActionLike, cur.Filename)
		}
		if _, err := feed.Next(ctx); err != nil {
			logger.Warn().Err(err).Msg("recording position")
		}
	}
	return count, nil
}
