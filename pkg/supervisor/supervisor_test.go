package supervisor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aidam-sidecar/core/pkg/aidamerr"
)

func TestRegistry_Start_RejectsDuplicateSessionID(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Start("dup", SpawnOptions{Command: "cat"}))
	t.Cleanup(func() { _, _ = r.Stop("dup") })

	err := r.Start("dup", SpawnOptions{Command: "cat"})
	require.Error(t, err)
	var ve *aidamerr.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestRegistry_Get_UnknownSessionIsNotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("no-such-session")
	require.Error(t, err)
	var nf *aidamerr.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestRegistry_List_ReflectsStartAndStop(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Start("s1", SpawnOptions{Command: "cat"}))
	require.NoError(t, r.Start("s2", SpawnOptions{Command: "cat"}))

	require.ElementsMatch(t, []string{"s1", "s2"}, r.List())

	_, err := r.Stop("s1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"s2"}, r.List())

	_, _ = r.Stop("s2")
}

func TestSession_Send_EchoesBackThroughCatAndStripsPromptEcho(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Start("echo-session", SpawnOptions{Command: "cat"}))
	t.Cleanup(func() { _, _ = r.Stop("echo-session") })

	sess, err := r.Get("echo-session")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := sess.Send(ctx, "hello from the supervisor", 8*time.Second, true)
	require.NoError(t, err)
	require.Contains(t, out, "hello from the supervisor")
	require.Equal(t, 1, strings.Count(out, "hello from the supervisor"))
}

func TestSession_Status_ReportsAliveAndMetadata(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Start("status-session", SpawnOptions{Command: "cat", WorkingDir: "/tmp"}))
	t.Cleanup(func() { _, _ = r.Stop("status-session") })

	sess, err := r.Get("status-session")
	require.NoError(t, err)

	st := sess.Status()
	require.True(t, st.Alive)
	require.Equal(t, "/tmp", st.WorkingDir)
	require.Equal(t, 0, st.MessagesSent)
}

func TestSession_Read_FiltersByCaseInsensitiveSubstring(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Start("read-session", SpawnOptions{Command: "cat"}))
	t.Cleanup(func() { _, _ = r.Stop("read-session") })

	sess, err := r.Get("read-session")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = sess.Send(ctx, "first marker line", 8*time.Second, true)
	require.NoError(t, err)
	_, err = sess.Send(ctx, "second CHERRY line", 8*time.Second, true)
	require.NoError(t, err)

	filtered := sess.Read(0, 0, "cherry")
	require.Contains(t, filtered, "CHERRY")
	require.NotContains(t, filtered, "marker")
}

func TestSession_Stop_MarksNotAliveAndReturnsFinalOutput(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Start("stop-session", SpawnOptions{Command: "cat"}))

	sess, err := r.Get("stop-session")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = sess.Send(ctx, "last words", 8*time.Second, true)
	require.NoError(t, err)

	final, err := r.Stop("stop-session")
	require.NoError(t, err)
	require.Contains(t, final, "last words")
	require.False(t, sess.Status().Alive)

	_, err = r.Get("stop-session")
	require.Error(t, err)
}

func TestSession_SendKeys_WithoutWaitReturnsImmediately(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Start("keys-session", SpawnOptions{Command: "cat"}))
	t.Cleanup(func() { _, _ = r.Stop("keys-session") })

	sess, err := r.Get("keys-session")
	require.NoError(t, err)

	out, err := sess.SendKeys(context.Background(), []string{"h", "i", "enter"}, time.Second, false)
	require.NoError(t, err)
	require.Equal(t, "", out)
}

func TestSession_SendOnDeadSessionIsValidationError(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Start("dead-session", SpawnOptions{Command: "cat"}))

	sess, err := r.Get("dead-session")
	require.NoError(t, err)
	_, err = r.Stop("dead-session")
	require.NoError(t, err)

	_, err = sess.Send(context.Background(), "too late", time.Second, false)
	require.Error(t, err)
	var ve *aidamerr.ValidationError
	require.ErrorAs(t, err, &ve)
}
