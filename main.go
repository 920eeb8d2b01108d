package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"homechat/chat"
	"homechat/config"
	"homechat/identity"
	"homechat/rest"
	"homechat/transport"
)

func main() {
	logger := log.New(os.Stdout, "[HOMECHAT] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := identity.Open(cfg.Storage.Database, cfg.Storage.Migrations)
	if err != nil {
		log.Fatalf("Could not open identity store: %v", err)
	}
	defer store.Close()

	if len(os.Args) == 3 && os.Args[1] == "login" {
		login(store, os.Args[2], logger)
		return
	}

	cred, ok, err := store.Credential()
	if err != nil {
		log.Fatalf("Could not load credential: %v", err)
	}
	if !ok {
		logger.Println("No credential stored, chat is disabled. Run: homechat login <token>")
		return
	}

	ident, err := identity.ParseToken(cred.Token)
	if err != nil {
		logger.Printf("Stored token is unusable (%v), chat is disabled", err)
		return
	}
	if ident.Expired(time.Now()) {
		logger.Println("Stored token has expired, chat is disabled. Log in again.")
		return
	}

	self := chat.User{ID: ident.UserID, Name: ident.Name}
	api := rest.NewClient(cfg.API.BaseURL, cred.Token, cfg.API.Timeout, logger)
	rooms := chat.NewRoomList(api, chat.RoleBuyer, "", self.ID, logger)

	conn := transport.NewConn(transport.Config{
		BrokerURL:      cfg.Realtime.BrokerURL,
		Token:          cred.Token,
		ReconnectDelay: cfg.Realtime.ReconnectDelay,
		WriteTimeout:   cfg.Realtime.WriteTimeout,
	}, logger)

	session := chat.NewSession(self, conn, api, rooms, store, chat.SessionConfig{
		TypingIdle:      cfg.Chat.TypingIdle,
		TypingExpiry:    cfg.Chat.TypingExpiry,
		HistoryPageSize: cfg.Chat.HistoryPageSize,
	}, logger)

	conn.OnFrame(session.HandleFrame)
	conn.OnStateChange(func(st transport.State) {
		fmt.Printf("-- %s --\n", st)
		session.HandleConnState(st)
	})
	session.OnUpdate(func() {
		render(session)
	})

	ctx := context.Background()
	if _, err := rooms.Fetch(ctx); err != nil {
		logger.Printf("Initial room fetch failed: %v", err)
	}

	conn.Connect()
	defer conn.Disconnect()

	if roomID := pickRoom(store, rooms, logger); roomID != "" {
		if err := session.SetActiveRoom(ctx, roomID); err != nil {
			logger.Printf("Could not open room %s: %v", roomID, err)
		}
		render(session)
	} else {
		logger.Println("No conversations yet. Use /open <propertyID> to start one.")
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	go inputLoop(ctx, session, rooms, logger)

	sig := <-signalChan
	logger.Printf("Received signal: %s. Shutting down.", sig)
}

func login(store *identity.Store, token string, logger *log.Logger) {
	ident, err := identity.ParseToken(token)
	if err != nil {
		log.Fatalf("Token rejected: %v", err)
	}
	err = store.SaveCredential(identity.Credential{
		Token:    token,
		UserID:   ident.UserID,
		UserName: ident.Name,
	})
	if err != nil {
		log.Fatalf("Could not save credential: %v", err)
	}
	logger.Printf("Logged in as %s (%s)", ident.Name, ident.UserID)
}

func pickRoom(store *identity.Store, rooms *chat.RoomList, logger *log.Logger) string {
	last, err := store.LastRoom()
	if err != nil {
		logger.Printf("Could not read last room marker: %v", err)
	}
	if last != "" {
		if _, ok := rooms.Get(last); ok {
			return last
		}
	}
	if all := rooms.Rooms(); len(all) > 0 {
		return all[0].ID
	}
	return ""
}

func inputLoop(ctx context.Context, session *chat.Session, rooms *chat.RoomList, logger *log.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/rooms":
			for _, room := range rooms.Rooms() {
				marker := " "
				if room.ID == session.ActiveRoom() {
					marker = "*"
				}
				fmt.Printf("%s %s  %s (unread: %d)\n", marker, room.ID, room.Title, room.Unread)
			}

		case strings.HasPrefix(line, "/open "):
			propertyID := strings.TrimSpace(strings.TrimPrefix(line, "/open "))
			room, err := rooms.CreateRoomIfAbsent(ctx, propertyID, "", "Hi, I am interested in this property.")
			if err != nil {
				logger.Printf("%v", err)
				continue
			}
			if err := session.SetActiveRoom(ctx, room.ID); err != nil {
				logger.Printf("%v", err)
			}
			render(session)

		case strings.HasPrefix(line, "/switch "):
			roomID := strings.TrimSpace(strings.TrimPrefix(line, "/switch "))
			if err := session.SetActiveRoom(ctx, roomID); err != nil {
				logger.Printf("%v", err)
			}
			render(session)

		case strings.HasPrefix(line, "/read "):
			messageID := strings.TrimSpace(strings.TrimPrefix(line, "/read "))
			if err := session.MarkRead(ctx, messageID, session.ActiveRoom()); err != nil {
				logger.Printf("%v", err)
			}

		case line == "/quit":
			syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
			return

		default:
			session.NotifyTyping()
			if err := session.Send(ctx, line); err != nil {
				logger.Printf("%v", err)
			}
		}
	}
}

func render(session *chat.Session) {
	msgs := session.Messages()
	if n := len(msgs); n > 0 {
		msg := msgs[n-1]
		prefix := "<-"
		if msg.Direction == chat.Outgoing {
			prefix = "->"
		}
		fmt.Printf("%s [%s] %s: %s (%s)\n",
			prefix, msg.CreatedAt.Format("15:04:05"), msg.Sender.Name, msg.Content, msg.Status)
	}
	if typing := session.TypingUsers(); len(typing) > 0 {
		names := make([]string, 0, len(typing))
		for _, u := range typing {
			names = append(names, u.Name)
		}
		fmt.Printf(".. %s typing ..\n", strings.Join(names, ", "))
	}
}
