package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"strings"
	"time"

	"rigforge/app/config"
	"rigforge/app/logger"
	"rigforge/app/model"
	"rigforge/app/storage"
	"rigforge/app/store"

	"github.com/casdoor/oss"
	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/patrickmn/go-cache"
	"golang.org/x/image/font/basicfont"
)

// PreviewDescriptor 角色与动画组合的预览信息
type PreviewDescriptor struct {
	Character  PreviewCharacter `json:"character"`
	Animation  PreviewAnimation `json:"animation"`
	PreviewURL string           `json:"preview_url"`
}

type PreviewCharacter struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ModelURL string `json:"model_url"`
}

type PreviewAnimation struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Duration     float64 `json:"duration"`
	AnimationURL string  `json:"animation_url"`
}

// PreviewService 生成预览描述和海报图，海报写入存储，描述缓存在内存
type PreviewService struct {
	assets store.AssetStore
	store  oss.StorageInterface
	cache  *cache.Cache
	width  int
	height int
	log    *logger.Logger
}

func NewPreviewService(assets store.AssetStore, st oss.StorageInterface, cfg config.PreviewConfig, log *logger.Logger) *PreviewService {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	width, height := cfg.Width, cfg.Height
	if width <= 0 || height <= 0 {
		width, height = 640, 360
	}
	return &PreviewService{
		assets: assets,
		store:  st,
		cache:  cache.New(ttl, 2*ttl),
		width:  width,
		height: height,
		log:    log.Named("preview"),
	}
}

// PosterKey 海报在存储中的位置
func PosterKey(name string) string {
	return "previews/" + name
}

// Preview 校验两个资源对调用者可见后返回预览描述。
// 可见性每次都重新校验，缓存只省去海报渲染。
func (p *PreviewService) Preview(ctx context.Context, characterID, animationID, userID string) (*PreviewDescriptor, error) {
	cid, err := parseID(characterID)
	if err != nil {
		return nil, err
	}
	aid, err := parseID(animationID)
	if err != nil {
		return nil, err
	}

	character, err := p.assets.FindAccessibleCharacter(ctx, cid, userID)
	if err != nil {
		return nil, previewLookupError("character", err)
	}
	animation, err := p.assets.FindAccessibleAnimation(ctx, aid, userID)
	if err != nil {
		return nil, previewLookupError("animation", err)
	}

	cacheKey := character.ID + "_" + animation.ID + "_" + character.UpdatedAt.Format(time.RFC3339Nano) + "_" + animation.UpdatedAt.Format(time.RFC3339Nano)
	if v, ok := p.cache.Get(cacheKey); ok {
		return v.(*PreviewDescriptor), nil
	}

	poster := posterName(character.ID, animation.ID)
	if err := p.renderPoster(ctx, poster, character, animation); err != nil {
		return nil, fmt.Errorf("render preview poster: %w", err)
	}

	desc := &PreviewDescriptor{
		Character: PreviewCharacter{
			ID:       character.ID,
			Name:     character.Name,
			ModelURL: p.fileURL(character.ModelFile),
		},
		Animation: PreviewAnimation{
			ID:           animation.ID,
			Name:         animation.Name,
			Duration:     animation.Duration,
			AnimationURL: p.fileURL(animation.AnimationFile),
		},
		PreviewURL: "/api/files/previews/" + poster,
	}
	p.cache.SetDefault(cacheKey, desc)
	return desc, nil
}

// Poster 读取已生成的海报。name 形如 <character_id>_<animation_id>.jpg，
// 两个资源对调用者都可见时才返回。
func (p *PreviewService) Poster(ctx context.Context, name, userID string) ([]byte, error) {
	characterID, animationID, ok := parsePosterName(name)
	if !ok {
		return nil, ErrNotFoundOrForbidden
	}
	if _, err := p.assets.FindAccessibleCharacter(ctx, characterID, userID); err != nil {
		return nil, previewLookupError("character", err)
	}
	if _, err := p.assets.FindAccessibleAnimation(ctx, animationID, userID); err != nil {
		return nil, previewLookupError("animation", err)
	}

	data, err := storage.ReadAll(ctx, p.store, PosterKey(posterName(characterID, animationID)))
	if err != nil {
		return nil, fmt.Errorf("poster %s: %w", name, ErrNotFoundOrForbidden)
	}
	return data, nil
}

func posterName(characterID, animationID string) string {
	return characterID + "_" + animationID + ".jpg"
}

// parsePosterName 只接受两个合法 uuid 组成的文件名
func parsePosterName(name string) (characterID, animationID string, ok bool) {
	base, found := strings.CutSuffix(name, ".jpg")
	if !found {
		return "", "", false
	}
	c, a, found := strings.Cut(base, "_")
	if !found {
		return "", "", false
	}
	cid, err := parseID(c)
	if err != nil || cid != c {
		return "", "", false
	}
	aid, err := parseID(a)
	if err != nil || aid != a {
		return "", "", false
	}
	return cid, aid, true
}

func (p *PreviewService) fileURL(key string) string {
	if key == "" {
		return ""
	}
	u, err := p.store.GetURL(key)
	if err != nil {
		p.log.Warnf("获取文件地址失败: key=%s, err=%v", key, err)
		return ""
	}
	return u
}

func previewLookupError(kind string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", kind, ErrNotFoundOrForbidden)
	}
	return fmt.Errorf("lookup %s: %w", kind, err)
}

// renderPoster 以两倍尺寸绘制后缩放，得到平滑的文字边缘
func (p *PreviewService) renderPoster(ctx context.Context, name string, c *model.Character, a *model.Animation) error {
	w, h := p.width*2, p.height*2
	dc := gg.NewContext(w, h)

	grad := gg.NewLinearGradient(0, 0, float64(w), float64(h))
	grad.AddColorStop(0, color.RGBA{R: 24, G: 28, B: 48, A: 255})
	grad.AddColorStop(1, color.RGBA{R: 70, G: 40, B: 110, A: 255})
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, 0, float64(w), float64(h))
	dc.Fill()

	// 时间轴
	barY := float64(h) * 0.8
	dc.SetRGBA(1, 1, 1, 0.25)
	dc.DrawRoundedRectangle(float64(w)*0.1, barY, float64(w)*0.8, 12, 6)
	dc.Fill()
	dc.SetRGB(0.95, 0.6, 0.2)
	dc.DrawCircle(float64(w)*0.1, barY+6, 14)
	dc.Fill()

	dc.SetFontFace(basicfont.Face7x13)
	dc.SetRGB(1, 1, 1)
	dc.DrawStringAnchored(c.Name, float64(w)/2, float64(h)*0.4, 0.5, 0.5)
	dc.SetRGB(0.85, 0.85, 0.95)
	dc.DrawStringAnchored(fmt.Sprintf("%s  %.1fs", a.Name, a.Duration), float64(w)/2, float64(h)*0.5, 0.5, 0.5)

	img := imaging.Resize(dc.Image(), p.width, p.height, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return err
	}
	_, err := storage.WriteBytes(ctx, p.store, PosterKey(name), buf.Bytes())
	return err
}
