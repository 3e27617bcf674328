package automation_test

import (
	"context"
	"reflect"
	"sync"
	"testing"

	"github.com/Iron-Ham/friendflow/internal/automation"
	"github.com/Iron-Ham/friendflow/internal/automation/automationtest"
	"github.com/Iron-Ham/friendflow/internal/welcome"
)

type recordingSink struct {
	mu       sync.Mutex
	profiles []automation.ContactProfile
}

func (r *recordingSink) Reconcile(ctx context.Context, p automation.ContactProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles = append(r.profiles, p)
	return nil
}

type memoryLedger struct {
	welcomed map[string]bool
	marked   map[string]bool
}

func (m *memoryLedger) Welcomed(ctx context.Context, key string) (bool, error) {
	return m.welcomed[key], nil
}

func (m *memoryLedger) MarkProcessed(ctx context.Context, key string, welcomed bool) error {
	if m.marked == nil {
		m.marked = make(map[string]bool)
	}
	m.marked[key] = welcomed
	return nil
}

type newContact struct {
	id      string
	name    string
	wechat  string
	remark  string
	pending bool
}

// newContactsUI scripts the contacts tab, the new-contacts list and one
// detail pane per entry.
func newContactsUI(entries ...newContact) *automationtest.Surface {
	surf := automationtest.New()
	surf.Show(ctrl("chats", automation.RoleChatsTab, "微信"), "main")
	surf.Show(ctrl("contacts", automation.RoleContactsTab, "通讯录"), "main")
	if len(entries) == 0 {
		return surf
	}
	surf.Show(ctrl("newc", automation.RoleNewContacts, "新的朋友"), "main")

	for _, e := range entries {
		e := e
		surf.Show(ctrl(e.id, automation.RoleNewContactItem, e.name), "newc")

		detail := e.id + "-detail"
		showIdentity := func(s *automationtest.Surface) {
			s.Show(ctrl(e.id+"-wxid", automation.RoleContactID, "微信号："+e.wechat), detail)
			s.Show(ctrl(e.id+"-msg", automation.RoleMessageButton, "发消息"), detail)
			if e.remark != "" {
				s.Show(ctrl(e.id+"-remark", automation.RoleContactRemark, "备注："+e.remark), detail)
			}
		}
		surf.OnClick(e.id, func(s *automationtest.Surface) {
			s.Show(ctrl(detail, automation.RoleProfileCard, e.name), "main")
			if !e.pending {
				showIdentity(s)
				return
			}
			s.Show(ctrl(e.id+"-verify", automation.RoleVerifyButton, "前往验证"), detail)
		})
		surf.OnClick(e.id+"-verify", func(s *automationtest.Surface) {
			s.Hide(e.id + "-verify")
			s.Show(ctrl(e.id+"-dlg", automation.RoleConfirmDialog, "通过朋友验证"), "")
			s.Show(ctrl(e.id+"-ok", automation.RoleConfirmButton, "确定"), e.id+"-dlg")
		})
		surf.OnClick(e.id+"-ok", func(s *automationtest.Surface) {
			s.Hide(e.id + "-dlg")
			showIdentity(s)
		})
		surf.OnClick(e.id+"-msg", func(s *automationtest.Surface) {
			s.Hide(detail)
			s.Show(ctrl("input", automation.RoleChatInput, "输入"), "main")
		})
	}

	// The delete item removes whichever entry was right-clicked last.
	var mu sync.Mutex
	var last string
	for _, e := range entries {
		e := e
		surf.OnRightClick(e.id, func(s *automationtest.Surface) {
			mu.Lock()
			last = e.id
			mu.Unlock()
			s.Show(ctrl("del", automation.RoleDeleteMenuItem, "删除"), "")
		})
	}
	surf.OnClick("del", func(s *automationtest.Surface) {
		mu.Lock()
		id := last
		mu.Unlock()
		s.Hide("del", id)
	})
	return surf
}

func TestScanNewContacts_VerifiedBeforePending(t *testing.T) {
	surf := newContactsUI(
		newContact{id: "e1", name: "小红我是小红 等待验证", wechat: "xh_1999", pending: true},
		newContact{id: "e2", name: "小明 已添加", wechat: "xm_2024", remark: "老客户"},
	)
	d := newDriver(t, surf)
	sink := &recordingSink{}
	plan := automation.WelcomePlan{Enabled: true, Steps: []welcome.Step{welcome.Text("hi")}}

	report, err := d.ScanNewContacts(context.Background(), session(t), sink, plan)
	if err != nil {
		t.Fatalf("ScanNewContacts() error = %v", err)
	}

	want := automation.ScanReport{Verified: 1, Pending: 1, Processed: 2, Welcomed: 2}
	if report != want {
		t.Errorf("report = %+v, want %+v", report, want)
	}
	wantProfiles := []automation.ContactProfile{
		{WechatID: "xm_2024", Nickname: "小明", Remark: "老客户"},
		{WechatID: "xh_1999", Nickname: "小红"},
	}
	if !reflect.DeepEqual(sink.profiles, wantProfiles) {
		t.Errorf("reconciled = %+v, want %+v", sink.profiles, wantProfiles)
	}
	if !reflect.DeepEqual(surf.Sent(), []string{"hi", "hi"}) {
		t.Errorf("sent = %q", surf.Sent())
	}
	for _, id := range []string{"e1", "e2"} {
		if surf.Visible(id) {
			t.Errorf("entry %s still listed", id)
		}
	}
	if !containsString(surf.Clicks(), "e1-ok") {
		t.Error("pending entry was not verified")
	}
	clicks := surf.Clicks()
	if clicks[len(clicks)-1] != "chats" {
		t.Errorf("last click = %s, want chat list restored", clicks[len(clicks)-1])
	}
}

func TestScanNewContacts_EmptyList(t *testing.T) {
	surf := newContactsUI()
	d := newDriver(t, surf)

	report, err := d.ScanNewContacts(context.Background(), session(t), &recordingSink{}, automation.WelcomePlan{})
	if err != nil {
		t.Fatalf("ScanNewContacts() error = %v", err)
	}
	if report != (automation.ScanReport{}) {
		t.Errorf("report = %+v, want zero", report)
	}
	if !containsString(surf.Clicks(), "chats") {
		t.Error("chat list not restored")
	}
}

func TestScanNewContacts_IgnoreAndWelcomeDisabled(t *testing.T) {
	surf := newContactsUI(
		newContact{id: "e1", name: "文件传输助手 已添加", wechat: "filehelper"},
		newContact{id: "e2", name: "小明 已添加", wechat: "xm_2024"},
	)
	d := newDriver(t, surf, func(o *automation.Options) {
		o.IgnoreNames = []string{"文件传输*"}
	})
	sink := &recordingSink{}

	report, err := d.ScanNewContacts(context.Background(), session(t), sink, automation.WelcomePlan{Enabled: false, Steps: []welcome.Step{welcome.Text("hi")}})
	if err != nil {
		t.Fatalf("ScanNewContacts() error = %v", err)
	}
	if report.Ignored != 1 || report.Processed != 1 || report.Welcomed != 0 {
		t.Errorf("report = %+v", report)
	}
	if len(surf.Sent()) != 0 {
		t.Errorf("sent = %q with welcome disabled", surf.Sent())
	}
	if !surf.Visible("e1") {
		t.Error("ignored entry was removed")
	}
	if len(sink.profiles) != 1 || sink.profiles[0].WechatID != "xm_2024" {
		t.Errorf("reconciled = %+v", sink.profiles)
	}
}

func TestScanNewContacts_LedgerSkipsRepeatWelcome(t *testing.T) {
	surf := newContactsUI(newContact{id: "e1", name: "小明 已添加", wechat: "xm_2024"})
	d := newDriver(t, surf)
	ledger := &memoryLedger{welcomed: map[string]bool{automation.NormalizeName("小明"): true}}
	d.SetLedger(ledger)

	plan := automation.WelcomePlan{Enabled: true, Steps: []welcome.Step{welcome.Text("hi")}}
	report, err := d.ScanNewContacts(context.Background(), session(t), &recordingSink{}, plan)
	if err != nil {
		t.Fatalf("ScanNewContacts() error = %v", err)
	}
	if report.Processed != 1 || report.Welcomed != 0 {
		t.Errorf("report = %+v", report)
	}
	if len(surf.Sent()) != 0 {
		t.Errorf("sent = %q, want no repeat welcome", surf.Sent())
	}
	if !ledger.marked[automation.NormalizeName("小明")] {
		t.Error("ledger not updated")
	}
}

func TestScanNewContacts_EntryFailureIsIsolated(t *testing.T) {
	surf := newContactsUI(
		newContact{id: "e1", name: "小明 已添加", wechat: "xm_2024"},
		newContact{id: "e2", name: "小刚 已添加", wechat: "xg_2024"},
	)
	// e1 opens a detail pane without a message button.
	surf.OnClick("e1", func(s *automationtest.Surface) {
		s.Show(ctrl("e1-detail", automation.RoleProfileCard, "小明"), "main")
		s.Show(ctrl("e1-wxid", automation.RoleContactID, "微信号：xm_2024"), "e1-detail")
	})
	surf.OnClick("e2", func(s *automationtest.Surface) {
		s.Hide("e1-detail")
		s.Show(ctrl("e2-detail", automation.RoleProfileCard, "小刚"), "main")
		s.Show(ctrl("e2-wxid", automation.RoleContactID, "微信号：xg_2024"), "e2-detail")
		s.Show(ctrl("e2-msg", automation.RoleMessageButton, "发消息"), "e2-detail")
	})
	d := newDriver(t, surf)

	plan := automation.WelcomePlan{Enabled: true, Steps: []welcome.Step{welcome.Text("hi")}}
	report, err := d.ScanNewContacts(context.Background(), session(t), &recordingSink{}, plan)
	if err != nil {
		t.Fatalf("ScanNewContacts() error = %v", err)
	}
	if report.Failed != 1 || report.Processed != 1 || report.Welcomed != 1 {
		t.Errorf("report = %+v", report)
	}
	if !surf.Visible("e1") || surf.Visible("e2") {
		t.Errorf("e1 visible=%v e2 visible=%v, want only e2 removed", surf.Visible("e1"), surf.Visible("e2"))
	}
}

func TestClassifyEntry(t *testing.T) {
	d := newDriver(t, automationtest.New())
	tests := []struct {
		name     string
		kind     automation.EntryKind
		nickname string
	}{
		{"小明 已添加", automation.EntryVerified, "小明"},
		{"小红我是小红 等待验证", automation.EntryPending, "小红"},
		{"Alice Added", automation.EntryVerified, "Alice"},
		{"群聊邀请", automation.EntryOther, "群聊邀请"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := d.ClassifyEntry(ctrl("x", automation.RoleNewContactItem, tt.name))
			if e.Kind != tt.kind || e.Nickname != tt.nickname {
				t.Errorf("ClassifyEntry(%q) = %v %q, want %v %q", tt.name, e.Kind, e.Nickname, tt.kind, tt.nickname)
			}
		})
	}
}
