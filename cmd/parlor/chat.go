package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/parlorhq/parlor/internal/attachment"
	"github.com/parlorhq/parlor/internal/compose"
	"github.com/parlorhq/parlor/internal/config"
	"github.com/parlorhq/parlor/internal/delivery"
	"github.com/parlorhq/parlor/internal/fileref"
	"github.com/parlorhq/parlor/internal/logger"
	"github.com/parlorhq/parlor/internal/preview"
	"github.com/parlorhq/parlor/internal/session"
	"github.com/parlorhq/parlor/internal/storage"
	"github.com/parlorhq/parlor/internal/transport"
)

type chatOptions struct {
	configPath string
	room       string
	token      string
	sessionID  string
	userID     string
}

func newChatCmd() *cobra.Command {
	opts := chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join a room and compose messages interactively",
		Run: func(cmd *cobra.Command, args []string) {
			runChat(opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "config file path")
	cmd.Flags().StringVarP(&opts.room, "room", "r", "", "room id to join")
	cmd.Flags().StringVar(&opts.token, "token", "", "session token (defaults to PARLOR_TOKEN)")
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "session id (defaults to PARLOR_SESSION)")
	cmd.Flags().StringVar(&opts.userID, "user", "", "user id")
	_ = cmd.MarkFlagRequired("room")
	return cmd
}

func runChat(opts chatOptions) {
	fx.New(
		fx.Supply(opts),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideSession,
			provideChannel,
			provideUploader,
			provideHandleTable,
			provideController,
			provideResolver,
			provideDispatcher,
			provideEditor,
			providePreviewServer,
		),
		fx.Invoke(
			startPreviewServer,
			startComposer,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig(opts chatOptions) (config.Config, error) {
	path := opts.configPath
	if path == "" {
		path = os.Getenv("PARLOR_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideSession(opts chatOptions, log *slog.Logger) session.Provider {
	token := opts.token
	if token == "" {
		token = os.Getenv("PARLOR_TOKEN")
	}
	sessionID := opts.sessionID
	if sessionID == "" {
		sessionID = os.Getenv("PARLOR_SESSION")
	}
	if token == "" {
		log.Warn("no session token; sends will fail until one is provided")
		return session.NewStaticProvider(nil)
	}
	if session.TokenExpired(token, time.Now()) {
		log.Warn("session token is expired; the gateway will reject it")
	}
	return session.NewStaticProvider(&session.User{
		ID:        opts.userID,
		Token:     token,
		SessionID: sessionID,
	})
}

func provideChannel(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, sessions session.Provider) (transport.Channel, error) {
	header := http.Header{}
	if user, ok := sessions.Current(); ok && user.Token != "" {
		header.Set("Authorization", "Bearer "+user.Token)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	channel, err := transport.Dial(ctx, log, cfg.Server.GatewayURL, header)
	if err != nil {
		return nil, fmt.Errorf("connect gateway: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return channel.Close() }})
	return channel, nil
}

func provideUploader(log *slog.Logger, cfg config.Config) storage.Uploader {
	return storage.NewHTTPClient(log, cfg.Server.APIBase, nil)
}

func provideHandleTable(cfg config.Config) *attachment.HandleTable {
	return attachment.NewHandleTable("http://" + cfg.Preview.Addr)
}

func provideController(log *slog.Logger, uploader storage.Uploader, handles *attachment.HandleTable) *attachment.Controller {
	return attachment.NewController(log, uploader, handles)
}

func provideResolver(log *slog.Logger, cfg config.Config, sessions session.Provider) *fileref.Resolver {
	return fileref.NewResolver(log, cfg.Storage.Origin, cfg.Server.APIBase, sessions)
}

func provideDispatcher(log *slog.Logger, channel transport.Channel, sessions session.Provider) *delivery.Dispatcher {
	return delivery.NewDispatcher(log, channel, sessions)
}

func provideEditor(log *slog.Logger) *compose.Editor {
	return compose.NewEditor(log)
}

func providePreviewServer(log *slog.Logger, cfg config.Config, handles *attachment.HandleTable) *preview.Server {
	return preview.NewServer(log, cfg.Preview.Addr, handles, cfg.Auth.JWTSecret)
}

func startPreviewServer(lc fx.Lifecycle, log *slog.Logger, srv *preview.Server, handles *attachment.HandleTable) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := srv.Listen(); err != nil {
				return err
			}
			handles.SetBase(srv.BaseURL())
			go func() {
				if err := srv.Start(); err != nil {
					log.Error("preview server stopped", slog.String("error", err.Error()))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error { return srv.Stop(ctx) },
	})
}

func startComposer(lc fx.Lifecycle, opts chatOptions, editor *compose.Editor, ctrl *attachment.Controller, dispatcher *delivery.Dispatcher, shutdowner fx.Shutdowner) {
	composer := &composer{
		room:       opts.room,
		editor:     editor,
		ctrl:       ctrl,
		dispatcher: dispatcher,
		out:        os.Stdout,
	}
	ctrl.OnProgress(func(id string, percent int) {
		fmt.Fprintf(composer.out, "\rupload %d%%", percent)
		if percent == 100 {
			fmt.Fprintln(composer.out)
		}
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				composer.loop(os.Stdin)
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			ctrl.Close()
			return nil
		},
	})
}

// composer is the line-oriented interactive loop: plain lines are drafted and
// sent, slash commands manage attachments, history, and shutdown.
type composer struct {
	room       string
	editor     *compose.Editor
	ctrl       *attachment.Controller
	dispatcher *delivery.Dispatcher
	out        *os.File
}

func (c *composer) loop(in *os.File) {
	fmt.Fprintf(c.out, "joined %s; /attach <path>, /remove, /history, /quit\n", c.room)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(c.out, "> ")
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		switch {
		case line == "/quit":
			return
		case line == "/remove":
			c.ctrl.Remove()
			fmt.Fprintln(c.out, "attachment removed")
		case line == "/history":
			c.fetchHistory()
		case strings.HasPrefix(line, "/attach "):
			c.attach(strings.TrimSpace(strings.TrimPrefix(line, "/attach ")))
		default:
			c.send(line)
		}
	}
}

func (c *composer) attach(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(c.out, "read %s: %v\n", path, err)
		return
	}
	meta := attachment.FileMeta{
		Name: filepath.Base(path),
		Mime: mime.TypeByExtension(filepath.Ext(path)),
		Size: int64(len(data)),
	}
	snap, err := c.ctrl.Select(meta, data)
	if err != nil {
		fmt.Fprintf(c.out, "attachment rejected: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "preview: %s\n", snap.PreviewURL)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	folder := fileref.RoomFolderPrefix + "/" + c.room
	if _, err := c.ctrl.Upload(ctx, folder); err != nil {
		fmt.Fprintf(c.out, "upload failed: %v (attachment kept, retry with /attach or /remove)\n", err)
		return
	}
	fmt.Fprintln(c.out, "attachment uploaded; next message will carry it")
}

func (c *composer) send(line string) {
	c.editor.SetText(line, len([]rune(line)))
	ticket, err := c.dispatcher.SendDraft(context.Background(), c.editor, c.ctrl, c.room)
	if err != nil {
		fmt.Fprintf(c.out, "send failed: %v\n", err)
		return
	}
	outcome, _ := ticket.Outcome()
	fmt.Fprintf(c.out, "sent (%s)\n", outcome)
}

func (c *composer) fetchHistory() {
	ticket, err := c.dispatcher.FetchHistory(context.Background(), c.room, "")
	if err != nil {
		fmt.Fprintf(c.out, "history fetch failed: %v\n", err)
		return
	}
	<-ticket.Done()
	outcome, reason := ticket.Outcome()
	if outcome != delivery.OutcomeAcknowledged {
		fmt.Fprintf(c.out, "history fetch %s %s\n", outcome, reason)
		return
	}
	fmt.Fprintln(c.out, "history loaded")
}
