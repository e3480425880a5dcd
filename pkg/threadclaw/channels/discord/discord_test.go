package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestIsThreadChannel(t *testing.T) {
	cases := []struct {
		chType discordgo.ChannelType
		want   bool
	}{
		{discordgo.ChannelTypeGuildPublicThread, true},
		{discordgo.ChannelTypeGuildPrivateThread, true},
		{discordgo.ChannelTypeGuildNewsThread, true},
		{discordgo.ChannelTypeGuildText, false},
		{discordgo.ChannelTypeDM, false},
	}
	for _, tc := range cases {
		ch := &discordgo.Channel{Type: tc.chType}
		if got := isThreadChannel(ch); got != tc.want {
			t.Errorf("isThreadChannel(%v) = %v, want %v", tc.chType, got, tc.want)
		}
	}
}

func TestMentionsUser(t *testing.T) {
	mentions := []*discordgo.User{{ID: "123"}, {ID: "456"}}
	if !mentionsUser(mentions, "456") {
		t.Error("mentioned user not detected")
	}
	if mentionsUser(mentions, "789") {
		t.Error("unmentioned user detected")
	}
	if mentionsUser(nil, "123") {
		t.Error("empty mentions matched")
	}
}

func TestAllowlist(t *testing.T) {
	if !contains(nil, "G1", false) {
		t.Error("empty allowlist should allow everything")
	}
	if !contains([]string{"G1"}, "G1", false) {
		t.Error("listed id rejected")
	}
	if contains([]string{"G1"}, "G2", false) {
		t.Error("unlisted id allowed")
	}
	// DMs bypass the guild filter entirely.
	if !contains([]string{"G1"}, "", true) {
		t.Error("bypass condition ignored")
	}
}
