// Command mockproviders serves deterministic stand-ins for the keyword-data
// and chat-completion upstreams so the API can run locally without credentials.
//
//	DATAFORSEO_BASE_URL=http://localhost:9000 OPENAI_BASE_URL=http://localhost:9000/v1
package main

import (
	"encoding/json"
	"hash/fnv"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/HanTheDev/adinsight-api/internal/logger"
)

func main() {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	if err := logger.Init(level); err != nil {
		panic(err)
	}
	log := logger.WithModule("mockproviders")

	addr := ":9000"
	if port := os.Getenv("MOCK_PORT"); port != "" {
		addr = ":" + port
	}

	router := mux.NewRouter()
	router.HandleFunc("/v3/keywords_data/google_ads/{endpoint}/live", keywordData).Methods(http.MethodPost)
	router.HandleFunc("/v1/chat/completions", chatCompletion).Methods(http.MethodPost)
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Info("request", zap.String("method", r.Method), zap.String("path", r.URL.Path))
			next.ServeHTTP(w, r)
		})
	})

	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	log.Info("mock providers listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

type keywordTask struct {
	Keywords []string `json:"keywords"`
	Target   string   `json:"target"`
	Limit    int      `json:"limit"`
}

func keywordData(w http.ResponseWriter, r *http.Request) {
	var tasks []keywordTask
	if err := json.NewDecoder(r.Body).Decode(&tasks); err != nil || len(tasks) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"status_code": 40501, "status_message": "Invalid Field: 'tasks'."})
		return
	}
	task := tasks[0]

	var keywords []string
	switch mux.Vars(r)["endpoint"] {
	case "search_volume":
		keywords = task.Keywords
	case "keywords_for_keywords":
		for _, seed := range task.Keywords {
			keywords = append(keywords, seed, seed+" price", "best "+seed, seed+" online", "cheap "+seed)
		}
	case "keywords_for_site":
		name := strings.Split(strings.TrimPrefix(task.Target, "www."), ".")[0]
		keywords = []string{name, name + " reviews", name + " login", name + " discount code"}
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status_code": 40400, "status_message": "Not Found."})
		return
	}

	result := make([]map[string]any, 0, len(keywords))
	for _, kw := range keywords {
		h := hashOf(kw)
		result = append(result, map[string]any{
			"keyword":           kw,
			"search_volume":     100 + h%50000,
			"cpc":               float64(50+h%450) / 100,
			"competition":       []string{"LOW", "MEDIUM", "HIGH"}[h%3],
			"competition_index": h % 100,
			"monthly_searches":  monthly(h),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status_code":    20000,
		"status_message": "Ok.",
		"tasks": []map[string]any{{
			"status_code":    20000,
			"status_message": "Ok.",
			"result":         result,
		}},
	})
}

func monthly(h int) []map[string]int {
	now := time.Now().UTC()
	out := make([]map[string]int, 0, 12)
	for i := 11; i >= 0; i-- {
		m := now.AddDate(0, -i, 0)
		out = append(out, map[string]int{
			"year":          m.Year(),
			"month":         int(m.Month()),
			"search_volume": 100 + (h+i*37)%50000,
		})
	}
	return out
}

func chatCompletion(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]string{"message": "invalid request", "type": "invalid_request_error"}})
		return
	}
	user := req.Messages[len(req.Messages)-1].Content

	var content any
	var keywords []string
	if err := json.Unmarshal([]byte(user), &keywords); err == nil {
		content = classify(keywords)
	} else {
		content = extract(user)
	}
	body, _ := json.Marshal(content)

	writeJSON(w, http.StatusOK, openai.ChatCompletionResponse{
		ID:      "chatcmpl-mock",
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []openai.ChatCompletionChoice{{
			Index:        0,
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: string(body)},
			FinishReason: openai.FinishReasonStop,
		}},
	})
}

func classify(keywords []string) map[string]any {
	items := make([]map[string]any, 0, len(keywords))
	for _, kw := range keywords {
		intent, score := "informational", 0.3
		switch {
		case strings.Contains(kw, "buy") || strings.Contains(kw, "price") || strings.Contains(kw, "cheap"):
			intent, score = "transactional", 0.9
		case strings.Contains(kw, "best") || strings.Contains(kw, "review"):
			intent, score = "commercial", 0.7
		case strings.Contains(kw, "login"):
			intent, score = "navigational", 0.2
		}
		items = append(items, map[string]any{"keyword": kw, "intent": intent, "commercial_score": score})
	}
	return map[string]any{"items": items}
}

func extract(prompt string) map[string]any {
	var title string
	for _, line := range strings.Split(prompt, "\n") {
		if t, ok := strings.CutPrefix(line, "Title: "); ok {
			title = strings.ToLower(strings.TrimSpace(t))
		}
	}
	keywords := []string{}
	for _, word := range strings.FieldsFunc(title, func(r rune) bool { return r == '|' || r == '-' || r == ',' }) {
		if word = strings.TrimSpace(word); word != "" {
			keywords = append(keywords, word, "buy "+word)
		}
	}
	return map[string]any{
		"keywords":        keywords,
		"industry":        "retail",
		"business_type":   "ecommerce",
		"target_audience": "online shoppers",
		"summary":         "Mock analysis of " + title,
	}
}

func hashOf(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() & 0x7fffffff)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
