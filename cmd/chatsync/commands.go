package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"chatsync/internal/api"
	"chatsync/internal/localstate"
	"chatsync/internal/model"
	"chatsync/internal/store"
)

// Session is the part of the engine the shell drives.
type Session interface {
	Store() *store.Store
	JoinConversation(ctx context.Context, id string) error
	SendMessage(ctx context.Context, conversationID, text string, attachments []api.Attachment) (model.Message, error)
	StartTyping(conversationID string) error
	StartChatWithUser(ctx context.Context, friendID string) (model.Conversation, error)
	SendFriendRequest(ctx context.Context, userID string) error
	AcceptRequest(ctx context.Context, requestID string) error
	RejectRequest(ctx context.Context, requestID string) error
	RemoveFriend(ctx context.Context, friendID string) error
	UpdateProfile(ctx context.Context, patch api.ProfileUpdate) (model.Profile, error)
	UploadAvatar(ctx context.Context, filename string, content io.Reader) (string, error)
	FetchUserProfile(ctx context.Context, userID string) (model.Profile, error)
	Logout() error
}

type shell struct {
	eng   Session
	state localstate.Store
	out   io.Writer
}

type command struct {
	usage string
	args  int
	run   func(ctx context.Context, s *shell, args []string, rest string) error
}

var errUsage = errors.New("usage")

var commands = map[string]command{
	"chats": {"chats", 0, func(ctx context.Context, s *shell, _ []string, _ string) error {
		st := s.eng.Store()
		for _, c := range st.Conversations() {
			mark := " "
			if c.ID == st.Current() {
				mark = "*"
			}
			fmt.Fprintf(s.out, "%s %s %s\n", mark, c.ID, participantNames(c.Participants))
		}
		return nil
	}},
	"join": {"join <conversationId>", 1, func(ctx context.Context, s *shell, args []string, _ string) error {
		if err := s.eng.JoinConversation(ctx, args[0]); err != nil {
			return err
		}
		msgs := s.eng.Store().Messages(args[0])
		for i := len(msgs) - 1; i >= 0; i-- {
			fmt.Fprintf(s.out, "%s: %s\n", displayName(msgs[i].Sender), msgs[i].Text)
		}
		return nil
	}},
	"send": {"send <text>", -1, func(ctx context.Context, s *shell, _ []string, rest string) error {
		_, err := s.eng.SendMessage(ctx, "", rest, nil)
		return err
	}},
	"attach": {"attach <file> [caption]", 1, func(ctx context.Context, s *shell, args []string, rest string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		caption := strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
		_, err = s.eng.SendMessage(ctx, "", caption, []api.Attachment{{Name: filepath.Base(args[0]), Content: f}})
		return err
	}},
	"typing": {"typing", 0, func(ctx context.Context, s *shell, _ []string, _ string) error {
		return s.eng.StartTyping(s.eng.Store().Current())
	}},
	"chat": {"chat <friendId>", 1, func(ctx context.Context, s *shell, args []string, _ string) error {
		conv, err := s.eng.StartChatWithUser(ctx, args[0])
		if err == nil {
			fmt.Fprintf(s.out, "now in %s\n", conv.ID)
		}
		return err
	}},
	"friends": {"friends", 0, func(ctx context.Context, s *shell, _ []string, _ string) error {
		for _, f := range s.eng.Store().Friends() {
			status := "offline"
			if f.Online {
				status = "online"
			}
			fmt.Fprintf(s.out, "%s %s (%s)\n", f.ID, f.Name, status)
		}
		return nil
	}},
	"requests": {"requests", 0, func(ctx context.Context, s *shell, _ []string, _ string) error {
		for _, r := range s.eng.Store().Requests() {
			fmt.Fprintf(s.out, "%s from %s\n", r.ID, displayName(r.From))
		}
		return nil
	}},
	"add": {"add <userId>", 1, func(ctx context.Context, s *shell, args []string, _ string) error {
		return s.eng.SendFriendRequest(ctx, args[0])
	}},
	"accept": {"accept <requestId>", 1, func(ctx context.Context, s *shell, args []string, _ string) error {
		return s.eng.AcceptRequest(ctx, args[0])
	}},
	"reject": {"reject <requestId>", 1, func(ctx context.Context, s *shell, args []string, _ string) error {
		return s.eng.RejectRequest(ctx, args[0])
	}},
	"unfriend": {"unfriend <friendId>", 1, func(ctx context.Context, s *shell, args []string, _ string) error {
		return s.eng.RemoveFriend(ctx, args[0])
	}},
	"profile": {"profile [userId]", 0, func(ctx context.Context, s *shell, args []string, _ string) error {
		var p model.Profile
		if len(args) > 0 {
			var err error
			if p, err = s.eng.FetchUserProfile(ctx, args[0]); err != nil {
				return err
			}
		} else {
			var ok bool
			if p, ok = s.eng.Store().Profile(); !ok {
				return errors.New("profile not loaded yet")
			}
		}
		fmt.Fprintf(s.out, "%s %s status=%q achievements=%d\n", p.ID, p.Name, p.Details.Status, len(p.Achievements))
		return nil
	}},
	"name": {"name <new name>", -1, func(ctx context.Context, s *shell, _ []string, rest string) error {
		_, err := s.eng.UpdateProfile(ctx, api.ProfileUpdate{Name: &rest})
		return err
	}},
	"avatar": {"avatar <image file>", 1, func(ctx context.Context, s *shell, args []string, _ string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		url, err := s.eng.UploadAvatar(ctx, filepath.Base(args[0]), f)
		if err == nil {
			fmt.Fprintln(s.out, "avatar:", url)
		}
		return err
	}},
	"tab": {"tab <name>", 1, func(ctx context.Context, s *shell, args []string, _ string) error {
		return localstate.Update(s.state, func(st *localstate.State) { st.ActiveTab = args[0] })
	}},
	"edit": {"edit on|off", 1, func(ctx context.Context, s *shell, args []string, _ string) error {
		on := args[0] == "on"
		if !on && args[0] != "off" {
			return errUsage
		}
		return localstate.Update(s.state, func(st *localstate.State) { st.ProfileEditing = on })
	}},
	"logout": {"logout", 0, func(ctx context.Context, s *shell, _ []string, _ string) error {
		return s.eng.Logout()
	}},
}

// exec runs one input line.
func (s *shell) exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	if name == "help" {
		s.help()
		return nil
	}
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q, try help", name)
	}
	args := strings.Fields(rest)
	if (cmd.args < 0 && rest == "") || len(args) < cmd.args {
		return fmt.Errorf("usage: %s", cmd.usage)
	}
	if err := cmd.run(ctx, s, args, rest); err != nil {
		if errors.Is(err, errUsage) {
			return fmt.Errorf("usage: %s", cmd.usage)
		}
		return err
	}
	return nil
}

func (s *shell) help() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintln(s.out, " ", commands[name].usage)
	}
}

func runCommands(ctx context.Context, s *shell, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if err := s.exec(ctx, scanner.Text()); err != nil {
			fmt.Fprintln(s.out, "error:", err)
		}
	}
}

func displayName(p model.Participant) string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

func participantNames(ps []model.Participant) string {
	names := make([]string, 0, len(ps))
	for _, p := range ps {
		names = append(names, displayName(p))
	}
	return strings.Join(names, ", ")
}
