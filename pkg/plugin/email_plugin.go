package plugin

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/smtp"
	"strings"

	"github.com/LENAX/decision-engine/pkg/core/event"
)

// EmailPlugin 邮件通知插件（对外导出）
// 把decision run事件以纯文本邮件发给固定收件人，一般只绑定
// run终态事件，调度进展事件量大不适合邮件。
type EmailPlugin struct {
	smtpHost string
	smtpPort int
	username string
	password string
	from     string
	to       []string
	enabled  bool
}

// NewEmailPlugin 创建邮件通知插件（对外导出）
func NewEmailPlugin() *EmailPlugin {
	return &EmailPlugin{}
}

// Name 插件名称（实现Plugin接口）
func (e *EmailPlugin) Name() string {
	return "email"
}

// Init 初始化插件（实现Plugin接口）
// 必需参数：smtp_host、from、to（逗号分隔）；可选：smtp_port
// （默认25）、username、password。
func (e *EmailPlugin) Init(params map[string]string) error {
	e.smtpHost = params["smtp_host"]
	if e.smtpHost == "" {
		return fmt.Errorf("smtp_host参数不能为空")
	}

	e.smtpPort = 25
	if portStr := params["smtp_port"]; portStr != "" {
		if _, err := fmt.Sscanf(portStr, "%d", &e.smtpPort); err != nil {
			return fmt.Errorf("smtp_port参数格式错误: %w", err)
		}
	}

	e.username = params["username"]
	e.password = params["password"]

	e.from = params["from"]
	if e.from == "" {
		return fmt.Errorf("from参数不能为空")
	}

	toStr := params["to"]
	if toStr == "" {
		return fmt.Errorf("to参数不能为空")
	}
	e.to = strings.Split(toStr, ",")
	for i := range e.to {
		e.to[i] = strings.TrimSpace(e.to[i])
	}

	e.enabled = true
	log.Printf("✅ [EmailPlugin] 初始化完成: SMTP=%s:%d, From=%s, To=%v", e.smtpHost, e.smtpPort, e.from, e.to)
	return nil
}

// Notify 发送事件通知邮件（实现Plugin接口）
func (e *EmailPlugin) Notify(_ context.Context, ev *event.Event) error {
	if !e.enabled {
		return fmt.Errorf("邮件插件未初始化")
	}

	subject := e.buildSubject(ev)
	body := e.buildBody(ev)

	if err := e.sendEmail(subject, body); err != nil {
		log.Printf("❌ [EmailPlugin] 发送邮件失败: %v", err)
		return err
	}
	log.Printf("✅ [EmailPlugin] 邮件发送成功: Event=%s, Subject=%s", ev.Type, subject)
	return nil
}

// buildSubject 构建邮件主题
func (e *EmailPlugin) buildSubject(ev *event.Event) string {
	switch ev.Type {
	case event.EventRunStarted:
		return fmt.Sprintf("[Decision Run启动] %s", ev.RunID)
	case event.EventRunCompleted:
		return fmt.Sprintf("[Decision Run完成] %s", ev.RunID)
	case event.EventRunFailed:
		return fmt.Sprintf("[Decision Run失败] %s", ev.RunID)
	case event.EventTaskScheduled:
		return fmt.Sprintf("[任务已调度] run %s", ev.RunID)
	case event.EventCacheHit:
		return fmt.Sprintf("[缓存命中] run %s", ev.RunID)
	default:
		return fmt.Sprintf("[系统通知] %s", ev.Type)
	}
}

// buildBody 构建邮件正文
// payload经过总线序列化后是通用map，逐键展开为键值行。
func (e *EmailPlugin) buildBody(ev *event.Event) string {
	var body strings.Builder
	body.WriteString(fmt.Sprintf("事件类型: %s\n", ev.Type))
	body.WriteString(fmt.Sprintf("Run ID: %s\n", ev.RunID))
	body.WriteString(fmt.Sprintf("时间: %s\n", ev.Timestamp.Format("2006-01-02 15:04:05")))

	switch payload := ev.Payload.(type) {
	case nil:
	case map[string]interface{}:
		body.WriteString("\n详细信息:\n")
		for k, v := range payload {
			body.WriteString(fmt.Sprintf("  %s: %v\n", k, v))
		}
	default:
		body.WriteString(fmt.Sprintf("\n详细信息: %v\n", payload))
	}
	return body.String()
}

// sendEmail 发送邮件
func (e *EmailPlugin) sendEmail(subject, body string) error {
	message := e.buildMessage(subject, body)
	addr := fmt.Sprintf("%s:%d", e.smtpHost, e.smtpPort)

	// 配置了用户名和密码时使用认证
	if e.username != "" && e.password != "" {
		auth := smtp.PlainAuth("", e.username, e.password, e.smtpHost)

		// 465端口需要先建立TLS连接
		if e.smtpPort == 465 {
			return e.sendEmailTLS(addr, auth, message)
		}
		return smtp.SendMail(addr, auth, e.from, e.to, []byte(message))
	}

	// 无认证发送（仅用于测试环境）
	return smtp.SendMail(addr, nil, e.from, e.to, []byte(message))
}

// sendEmailTLS 通过TLS发送邮件（用于465端口）
func (e *EmailPlugin) sendEmailTLS(addr string, auth smtp.Auth, message string) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{
		ServerName: e.smtpHost,
	})
	if err != nil {
		return fmt.Errorf("TLS连接失败: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, e.smtpHost)
	if err != nil {
		return fmt.Errorf("创建SMTP客户端失败: %w", err)
	}
	defer client.Close()

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP认证失败: %w", err)
	}
	if err := client.Mail(e.from); err != nil {
		return fmt.Errorf("设置发件人失败: %w", err)
	}
	for _, to := range e.to {
		if err := client.Rcpt(to); err != nil {
			return fmt.Errorf("设置收件人失败: %w", err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("获取数据写入器失败: %w", err)
	}
	if _, err := writer.Write([]byte(message)); err != nil {
		return fmt.Errorf("写入邮件内容失败: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("关闭数据写入器失败: %w", err)
	}
	return client.Quit()
}

// buildMessage 构建邮件消息
func (e *EmailPlugin) buildMessage(subject, body string) string {
	var message strings.Builder
	message.WriteString(fmt.Sprintf("From: %s\r\n", e.from))
	message.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(e.to, ", ")))
	message.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	message.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	message.WriteString("\r\n")
	message.WriteString(body)
	return message.String()
}
